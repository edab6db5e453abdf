package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/lock"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: fmt.Errorf("sweep: %w", context.DeadlineExceeded), want: SchedulerJobReasonDeadlineExceeded},
		{err: fmt.Errorf("user_1: %w", lock.ErrAcquireTimeout), want: SchedulerJobReasonLockUnavailable},
		{err: fmt.Errorf("poll: %w", entdomain.ErrUpstreamUnavailable), want: SchedulerJobReasonUpstream},
		{err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{err: &pgconn.PgError{Code: "40P01"}, want: SchedulerJobReasonSerializationFailure},
		{err: errors.New("database is locked"), want: SchedulerJobReasonSerializationFailure},
		{err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{err: errors.New("boom"), want: SchedulerJobReasonUnknown},
		{err: nil, want: SchedulerJobReasonUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifySchedulerJobReason(tt.err), "%v", tt.err)
	}
}

func TestSchedulerMetrics(t *testing.T) {
	m := NewSchedulerMetrics(prometheus.NewRegistry(), Config{ServiceName: "entitlementd", Environment: "test"})

	m.AddBatchProcessed("expire_entitlements", ResourceEntitlements, 3)
	m.AddBatchProcessed("expire_entitlements", ResourceEntitlements, 0)
	m.IncJobTimeout("reconcile_stale")
	m.ObserveJobDuration("reconcile_stale", 250*time.Millisecond)
	m.IncJobError("reconcile_stale", nil)
	m.ObserveRunLoopLag(-time.Second)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.batchProcessed.WithLabelValues("expire_entitlements", ResourceEntitlements)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobTimeouts.WithLabelValues("reconcile_stale")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.jobDuration))
	assert.Zero(t, testutil.CollectAndCount(m.jobErrors), "nil errors are not counted")

	var nilMetrics *SchedulerMetrics
	assert.NotPanics(t, func() { nilMetrics.IncJobRun("expire_entitlements") })
}
