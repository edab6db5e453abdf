package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"

	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/lock"
	"github.com/smallbiznis/entitlementd/pkg/db"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonLockUnavailable      = "lock_unavailable"
	SchedulerJobReasonUpstream             = "upstream_unavailable"
	SchedulerJobReasonUnknown              = "unknown"
)

const (
	ResourceEntitlements = "entitlements"
)

// SchedulerMetrics captures sweep job health signals.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobTimeouts    *prometheus.CounterVec
	jobErrors      *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
	runLoopLag     prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = NewSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// NewSchedulerMetrics registers a fresh set of scheduler collectors on registerer.
func NewSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := cfg.constLabels()

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "entitlement_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "entitlement_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "entitlement_scheduler_job_timeouts_total",
		Help:        "Scheduler jobs that hit their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "entitlement_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "entitlement_scheduler_batch_processed_total",
		Help:        "Records processed by scheduler sweeps.",
		ConstLabels: constLabels,
	}, []string{"job", "resource"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "entitlement_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(jobRuns, jobDuration, jobTimeouts, jobErrors, batchProcessed, runLoopLag)

	return &SchedulerMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobTimeouts:    jobTimeouts,
		jobErrors:      jobErrors,
		batchProcessed: batchProcessed,
		runLoopLag:     runLoopLag,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifySchedulerJobReason(err)).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.runLoopLag.Observe(duration.Seconds())
}

// jobReasons is checked in order; the first match labels the error.
var jobReasons = []struct {
	reason string
	match  func(error) bool
}{
	{SchedulerJobReasonDeadlineExceeded, func(err error) bool {
		return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	}},
	{SchedulerJobReasonLockUnavailable, func(err error) bool { return errors.Is(err, lock.ErrAcquireTimeout) }},
	{SchedulerJobReasonUpstream, func(err error) bool {
		return errors.Is(err, entdomain.ErrUpstreamUnavailable) || errors.Is(err, entdomain.ErrReconcileUnavailable)
	}},
	{SchedulerJobReasonDBLockTimeout, func(err error) bool { return hasPGCode(err, "55P03") }},
	{SchedulerJobReasonSerializationFailure, func(err error) bool { return db.IsRetryable(err) }},
	{SchedulerJobReasonUniqueViolation, func(err error) bool { return db.IsDuplicateKeyErr(err) }},
}

// ClassifySchedulerJobReason maps scheduler job errors to low-cardinality reasons.
func ClassifySchedulerJobReason(err error) string {
	if err == nil {
		return SchedulerJobReasonUnknown
	}
	for _, r := range jobReasons {
		if r.match(err) {
			return r.reason
		}
	}
	return SchedulerJobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
