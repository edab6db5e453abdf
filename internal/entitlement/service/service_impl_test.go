package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	billingdomain "github.com/smallbiznis/entitlementd/internal/billingprovider/domain"
	"github.com/smallbiznis/entitlementd/internal/clock"
	"github.com/smallbiznis/entitlementd/internal/config"
	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/entitlement/repository"
	"github.com/smallbiznis/entitlementd/internal/events"
	"github.com/smallbiznis/entitlementd/internal/lock"
	"github.com/smallbiznis/entitlementd/internal/observability/metrics"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.EntitlementChanged
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	var evt events.EntitlementChanged
	if err := json.Unmarshal(payload, &evt); err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fakeSource struct {
	mu    sync.Mutex
	snaps map[string]domain.Snapshot
	err   error
	calls int
}

func (f *fakeSource) DefaultProvider() string { return "stripe" }

func (f *fakeSource) GetSubscription(_ context.Context, provider, subscriptionID string) (*domain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	snap, ok := f.snaps[subscriptionID]
	if !ok {
		return nil, billingdomain.ErrSubscriptionNotFound
	}
	snap.Provider = provider
	return &snap, nil
}

type fixture struct {
	svc    domain.Service
	db     *gorm.DB
	repo   domain.Repository
	clock  *clock.FakeClock
	source *fakeSource
	pub    *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Record{}))

	f := &fixture{
		db:     db,
		repo:   repository.Provide(),
		clock:  clock.NewFakeClock(testNow),
		source: &fakeSource{snaps: map[string]domain.Snapshot{}},
		pub:    &recordingPublisher{},
	}
	f.svc = f.newService(f.repo, f.source)
	return f
}

func (f *fixture) newService(repo domain.Repository, source domain.SubscriptionSource) domain.Service {
	return NewService(ServiceParam{
		DB:        f.db,
		Log:       zap.NewNop(),
		Repo:      repo,
		Locker:    lock.NewLocalLocker(),
		Publisher: f.pub,
		Policy:    config.NewStaticPolicyHolder(config.DefaultPolicyConfig()),
		Clock:     f.clock,
		Source:    source,
		Metrics:   metrics.NewEntitlementMetrics(prometheus.NewRegistry(), metrics.Config{}),
	})
}

func (f *fixture) seed(t *testing.T, rec domain.Record) domain.Record {
	t.Helper()
	stored, err := f.repo.ConditionalWrite(context.Background(), f.db, 0, rec)
	require.NoError(t, err)
	return stored
}

func activated(sub string, next time.Time) domain.ProviderEvent {
	return domain.ProviderEvent{
		ID:             "evt_activated",
		Provider:       "stripe",
		Type:           domain.EventActivated,
		SubscriptionID: sub,
		NextChargeAt:   domain.TimePtr(next),
	}
}

func TestApplyEvent_NoneToActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	next := testNow.Add(days(30))

	res, err := f.svc.ApplyEvent(ctx, "user_1", activated("sub_1", next))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, res.Outcome)
	assert.Equal(t, "activated", res.Reason)
	assert.True(t, res.Record.IsPremium)
	assert.Equal(t, domain.StatusActive, res.Record.Status)
	assert.Equal(t, "sub_1", res.Record.BoundSubscriptionID())
	assert.Equal(t, "stripe", res.Record.Provider)
	assert.Equal(t, int64(1), res.Record.Version)
	require.NotNil(t, res.Record.ExpiresAt)
	assert.True(t, next.Equal(*res.Record.ExpiresAt))
	require.NotNil(t, res.Record.LastReconciledAt)
	assert.True(t, testNow.Equal(*res.Record.LastReconciledAt))

	require.Equal(t, 1, f.pub.count())
	assert.Equal(t, "none", f.pub.events[0].PreviousStatus)
	assert.Equal(t, "active", f.pub.events[0].Status)
	assert.Equal(t, "webhook", f.pub.events[0].Source)
}

func TestApplyEvent_DuplicateDeliveryWritesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	evt := activated("sub_1", testNow.Add(days(30)))

	_, err := f.svc.ApplyEvent(ctx, "user_1", evt)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	res, err := f.svc.ApplyEvent(ctx, "user_1", evt)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnchanged, res.Outcome)
	assert.Equal(t, int64(1), res.Record.Version)
	assert.Equal(t, 1, f.pub.count())

	stored, err := f.svc.Get(ctx, "user_1")
	require.NoError(t, err)
	require.NotNil(t, stored.LastReconciledAt)
	assert.True(t, testNow.Add(time.Minute).Equal(*stored.LastReconciledAt), "no-op still stamps the check")
}

func TestApplyEvent_ScheduledCancellationThenExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := testNow.Add(days(10))

	_, err := f.svc.ApplyEvent(ctx, "user_1", activated("sub_1", expiry))
	require.NoError(t, err)

	res, err := f.svc.ApplyEvent(ctx, "user_1", domain.ProviderEvent{
		ID: "evt_cancel", Provider: "stripe", Type: domain.EventCancelled, SubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, res.Outcome)
	assert.Equal(t, domain.StatusCancelled, res.Record.Status)
	assert.True(t, res.Record.IsPremium, "cancelled keeps access until expiry")
	require.NotNil(t, res.Record.ExpiresAt)
	assert.True(t, expiry.Equal(*res.Record.ExpiresAt))

	f.clock.Set(expiry.Add(-time.Second))
	res, err = f.svc.EnforceExpiry(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUnchanged, res.Outcome)
	assert.True(t, res.Record.IsPremium)

	f.clock.Set(expiry.Add(time.Second))
	res, err = f.svc.EnforceExpiry(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, res.Outcome)
	assert.Equal(t, "expiry_elapsed", res.Reason)
	assert.False(t, res.Record.IsPremium)
	assert.Equal(t, domain.StatusExpired, res.Record.Status)
	require.NotNil(t, res.Record.ExpiresAt, "expiry is kept for audit")
	assert.Equal(t, "enforcer", f.pub.events[len(f.pub.events)-1].Source)
}

func TestApplyEvent_OutOfOrderRenewalAfterCancellation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	next := testNow.Add(days(30))

	_, err := f.svc.ApplyEvent(ctx, "user_1", activated("sub_1", next))
	require.NoError(t, err)
	_, err = f.svc.ApplyEvent(ctx, "user_1", domain.ProviderEvent{ID: "evt_cancel", Provider: "stripe", Type: domain.EventCancelled, SubscriptionID: "sub_1"})
	require.NoError(t, err)

	stale := activated("sub_1", next)
	stale.ID = "evt_renewed_late"
	stale.Type = domain.EventRenewed
	res, err := f.svc.ApplyEvent(ctx, "user_1", stale)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, res.Record.Status, "last applied wins")
	assert.True(t, res.Record.IsPremium)
}

func TestApplyEvent_OwnershipMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ApplyEvent(ctx, "user_1", activated("sub_1", testNow.Add(days(30))))
	require.NoError(t, err)

	_, err = f.svc.ApplyEvent(ctx, "user_1", domain.ProviderEvent{ID: "evt_x", Provider: "stripe", Type: domain.EventExpired, SubscriptionID: "sub_other"})
	assert.ErrorIs(t, err, domain.ErrOwnershipMismatch)

	stored, err := f.svc.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, stored.IsPremium)
	assert.Equal(t, int64(1), stored.Version)
}

func TestApplyEvent_RebindAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, domain.Record{
		UserID:         "user_1",
		Status:         domain.StatusExpired,
		ExpiresAt:      domain.TimePtr(testNow.Add(-days(5))),
		SubscriptionID: domain.StringPtr("sub_old"),
		Provider:       "stripe",
	})

	res, err := f.svc.ApplyEvent(ctx, "user_1", activated("sub_new", testNow.Add(days(30))))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, res.Outcome)
	assert.Equal(t, "sub_new", res.Record.BoundSubscriptionID())
	assert.True(t, res.Record.IsPremium)
}

func TestApplyEvent_LapsedOwnerDoesNotBlockNewSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, domain.Record{
		UserID:         "user_1",
		IsPremium:      true,
		Status:         domain.StatusCancelled,
		ExpiresAt:      domain.TimePtr(testNow.Add(-days(3))),
		SubscriptionID: domain.StringPtr("sub_old"),
		Provider:       "stripe",
	})
	next := testNow.Add(days(30))

	res, err := f.svc.ApplyEvent(ctx, "user_1", activated("sub_new", next))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, res.Outcome)

	stored, err := f.svc.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.True(t, stored.IsPremium)
	assert.Equal(t, domain.StatusActive, stored.Status)
	assert.Equal(t, "sub_new", stored.BoundSubscriptionID())
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, next.Equal(*stored.ExpiresAt))
}

func TestApplyEvent_LapsedRecordIsEnforcedFirst(t *testing.T) {
	lapsed := func(status domain.Status) domain.Record {
		return domain.Record{
			UserID:         "user_1",
			IsPremium:      true,
			Status:         status,
			ExpiresAt:      domain.TimePtr(testNow.Add(-days(2))),
			SubscriptionID: domain.StringPtr("sub_old"),
			Provider:       "stripe",
		}
	}
	renewal := func(sub string, next time.Time) domain.ProviderEvent {
		evt := activated(sub, next)
		evt.ID = "evt_renewed"
		evt.Type = domain.EventRenewed
		return evt
	}

	tests := []struct {
		name    string
		rec     domain.Record
		evt     domain.ProviderEvent
		wantSub string
	}{
		{name: "active with new subscription", rec: lapsed(domain.StatusActive), evt: activated("sub_new", testNow.Add(days(30))), wantSub: "sub_new"},
		{name: "active renewed", rec: lapsed(domain.StatusActive), evt: renewal("sub_old", testNow.Add(days(30))), wantSub: "sub_old"},
		{name: "cancelled with new subscription", rec: lapsed(domain.StatusCancelled), evt: activated("sub_new", testNow.Add(days(30))), wantSub: "sub_new"},
		{name: "cancelled renewed", rec: lapsed(domain.StatusCancelled), evt: renewal("sub_old", testNow.Add(days(30))), wantSub: "sub_old"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, tt.rec)

			res, err := f.svc.ApplyEvent(context.Background(), "user_1", tt.evt)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeUpdated, res.Outcome)
			assert.True(t, res.Record.IsPremium)
			assert.Equal(t, domain.StatusActive, res.Record.Status)
			assert.Equal(t, tt.wantSub, res.Record.BoundSubscriptionID())
			require.NotNil(t, res.Record.ExpiresAt)
			assert.True(t, tt.evt.NextChargeAt.Equal(*res.Record.ExpiresAt))
		})
	}
}

func TestApplyEvent_IgnoredEventStillRevokesLapsedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, domain.Record{
		UserID:         "user_1",
		IsPremium:      true,
		Status:         domain.StatusActive,
		ExpiresAt:      domain.TimePtr(testNow.Add(-time.Hour)),
		SubscriptionID: domain.StringPtr("sub_1"),
		Provider:       "stripe",
	})

	res, err := f.svc.ApplyEvent(ctx, "user_1", domain.ProviderEvent{ID: "evt", Type: domain.EventIgnored, SubscriptionID: "sub_1"})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, res.Outcome)
	assert.Equal(t, "expiry_elapsed", res.Reason)
	assert.False(t, res.Record.IsPremium)
	assert.Equal(t, domain.StatusExpired, res.Record.Status)
}

func TestApplyEvent_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ApplyEvent(ctx, "  ", activated("sub_1", testNow))
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	_, err = f.svc.ApplyEvent(ctx, "user_1", domain.ProviderEvent{ID: "evt"})
	assert.ErrorIs(t, err, domain.ErrInvalidEvent)

	res, err := f.svc.ApplyEvent(ctx, "user_1", domain.ProviderEvent{ID: "evt", Type: domain.EventIgnored})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeIgnored, res.Outcome)
	assert.Zero(t, f.pub.count())
}

func TestApplyEvent_ConcurrentDeliveriesWriteOnce(t *testing.T) {
	f := newFixture(t)
	evt := activated("sub_1", testNow.Add(days(30)))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApplyEvent(context.Background(), "user_1", evt)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := f.svc.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, 1, f.pub.count())
}

type racingRepo struct {
	domain.Repository
	once sync.Once
	race func(ctx context.Context, db *gorm.DB)
}

func (r *racingRepo) ConditionalWrite(ctx context.Context, db *gorm.DB, expected int64, rec domain.Record) (domain.Record, error) {
	r.once.Do(func() { r.race(ctx, db) })
	return r.Repository.ConditionalWrite(ctx, db, expected, rec)
}

func TestApplyEvent_RetriesOnVersionConflict(t *testing.T) {
	f := newFixture(t)
	base := f.seed(t, domain.Record{
		UserID:         "user_1",
		IsPremium:      true,
		Status:         domain.StatusActive,
		ExpiresAt:      domain.TimePtr(testNow.Add(days(5))),
		SubscriptionID: domain.StringPtr("sub_1"),
		Provider:       "stripe",
	})

	repo := &racingRepo{Repository: f.repo}
	repo.race = func(ctx context.Context, db *gorm.DB) {
		competitor := base.Clone()
		competitor.ExpiresAt = domain.TimePtr(testNow.Add(days(10)))
		_, err := f.repo.ConditionalWrite(ctx, db, base.Version, competitor)
		require.NoError(t, err)
	}
	svc := f.newService(repo, f.source)

	want := testNow.Add(days(30))
	evt := activated("sub_1", want)
	evt.Type = domain.EventRenewed
	res, err := svc.ApplyEvent(context.Background(), "user_1", evt)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeUpdated, res.Outcome)
	assert.Equal(t, int64(3), res.Record.Version)
	require.NotNil(t, res.Record.ExpiresAt)
	assert.True(t, want.Equal(*res.Record.ExpiresAt))
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()
	expiry := testNow.Add(days(20))

	seedActive := func(t *testing.T, f *fixture, lastReconciled *time.Time) {
		f.seed(t, domain.Record{
			UserID:           "user_1",
			IsPremium:        true,
			Status:           domain.StatusActive,
			ExpiresAt:        domain.TimePtr(expiry),
			SubscriptionID:   domain.StringPtr("sub_1"),
			Provider:         "stripe",
			LastReconciledAt: lastReconciled,
		})
	}

	t.Run("cooldown skips the provider", func(t *testing.T) {
		f := newFixture(t)
		seedActive(t, f, domain.TimePtr(testNow.Add(-time.Hour)))

		res, err := f.svc.Reconcile(ctx, domain.ReconcileRequest{UserID: "user_1"})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeSkippedCooldown, res.Outcome)
		assert.Zero(t, f.source.calls)
	})

	t.Run("force bypasses cooldown", func(t *testing.T) {
		f := newFixture(t)
		seedActive(t, f, domain.TimePtr(testNow.Add(-time.Hour)))
		f.source.snaps["sub_1"] = domain.Snapshot{RawStatus: "active", ScheduledCancellation: true, PeriodEndAt: domain.TimePtr(expiry)}

		res, err := f.svc.Reconcile(ctx, domain.ReconcileRequest{UserID: "user_1", Force: true})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeUpdated, res.Outcome)
		assert.Equal(t, domain.StatusCancelled, res.Record.Status)
		assert.True(t, res.Record.IsPremium)
		assert.Equal(t, 1, f.source.calls)
		assert.Equal(t, "poll", f.pub.events[0].Source)
	})

	t.Run("upstream failure leaves state untouched", func(t *testing.T) {
		f := newFixture(t)
		seedActive(t, f, nil)
		f.source.err = fmt.Errorf("%w: stripe: timeout", billingdomain.ErrUpstreamUnavailable)

		res, err := f.svc.Reconcile(ctx, domain.ReconcileRequest{UserID: "user_1"})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeSkippedUpstream, res.Outcome)
		assert.Equal(t, "upstream_unavailable", res.Reason)

		stored, err := f.svc.Get(ctx, "user_1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Version)
		assert.Nil(t, stored.LastReconciledAt, "a failed poll is not a reconciliation")
		assert.True(t, stored.IsPremium)
	})

	t.Run("unknown subscription is skipped", func(t *testing.T) {
		f := newFixture(t)
		seedActive(t, f, nil)

		res, err := f.svc.Reconcile(ctx, domain.ReconcileRequest{UserID: "user_1"})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeSkippedUpstream, res.Outcome)
		assert.Equal(t, "subscription_not_found", res.Reason)
	})

	t.Run("unconfigured provider", func(t *testing.T) {
		f := newFixture(t)
		seedActive(t, f, nil)
		f.source.err = billingdomain.ErrProviderNotFound

		_, err := f.svc.Reconcile(ctx, domain.ReconcileRequest{UserID: "user_1"})
		assert.ErrorIs(t, err, domain.ErrReconcileUnavailable)
	})

	t.Run("no source configured", func(t *testing.T) {
		f := newFixture(t)
		seedActive(t, f, nil)
		svc := f.newService(f.repo, nil)

		_, err := svc.Reconcile(ctx, domain.ReconcileRequest{UserID: "user_1"})
		assert.ErrorIs(t, err, domain.ErrReconcileUnavailable)
	})

	t.Run("foreign subscription", func(t *testing.T) {
		f := newFixture(t)
		seedActive(t, f, nil)

		_, err := f.svc.Reconcile(ctx, domain.ReconcileRequest{UserID: "user_1", SubscriptionID: "sub_2"})
		assert.ErrorIs(t, err, domain.ErrOwnershipMismatch)
	})

	t.Run("nothing to reconcile", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Reconcile(ctx, domain.ReconcileRequest{UserID: "ghost"})
		assert.ErrorIs(t, err, domain.ErrNoSubscription)
	})

	t.Run("first poll binds supplied subscription", func(t *testing.T) {
		f := newFixture(t)
		f.source.snaps["sub_new"] = domain.Snapshot{RawStatus: "active", NextChargeAt: domain.TimePtr(expiry)}

		res, err := f.svc.Reconcile(ctx, domain.ReconcileRequest{UserID: "user_2", SubscriptionID: "sub_new"})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeUpdated, res.Outcome)
		assert.Equal(t, "sub_new", res.Record.BoundSubscriptionID())
		assert.Equal(t, "stripe", res.Record.Provider)
	})

	t.Run("lapsed premium is revoked before polling", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, domain.Record{
			UserID:           "user_1",
			IsPremium:        true,
			Status:           domain.StatusCancelled,
			ExpiresAt:        domain.TimePtr(testNow.Add(-time.Hour)),
			SubscriptionID:   domain.StringPtr("sub_1"),
			LastReconciledAt: domain.TimePtr(testNow.Add(-time.Minute)),
		})

		res, err := f.svc.Reconcile(ctx, domain.ReconcileRequest{UserID: "user_1"})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeSkippedCooldown, res.Outcome)
		assert.False(t, res.Record.IsPremium)
		assert.Equal(t, domain.StatusExpired, res.Record.Status)
	})
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	for i, offset := range []time.Duration{-time.Hour, -days(2), time.Hour} {
		f.seed(t, domain.Record{
			UserID:         fmt.Sprintf("user_%d", i),
			IsPremium:      true,
			Status:         domain.StatusActive,
			ExpiresAt:      domain.TimePtr(testNow.Add(offset)),
			SubscriptionID: domain.StringPtr(fmt.Sprintf("sub_%d", i)),
		})
	}

	revoked, err := f.svc.SweepExpired(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)

	again, err := f.svc.SweepExpired(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestSweepStale(t *testing.T) {
	f := newFixture(t)
	expiry := testNow.Add(days(3))
	f.seed(t, domain.Record{
		UserID: "stale", IsPremium: true, Status: domain.StatusActive,
		ExpiresAt: domain.TimePtr(expiry), SubscriptionID: domain.StringPtr("sub_stale"), Provider: "stripe",
		LastReconciledAt: domain.TimePtr(testNow.Add(-days(1))),
	})
	f.seed(t, domain.Record{
		UserID: "fresh", IsPremium: true, Status: domain.StatusActive,
		ExpiresAt: domain.TimePtr(expiry), SubscriptionID: domain.StringPtr("sub_fresh"), Provider: "stripe",
		LastReconciledAt: domain.TimePtr(testNow.Add(-time.Hour)),
	})
	f.source.snaps["sub_stale"] = domain.Snapshot{RawStatus: "active", NextChargeAt: domain.TimePtr(testNow.Add(days(33)))}

	updated, err := f.svc.SweepStale(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)
	assert.Equal(t, 1, f.source.calls)

	stored, err := f.svc.Get(context.Background(), "stale")
	require.NoError(t, err)
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, testNow.Add(days(33)).Equal(*stored.ExpiresAt))
}

func TestSweepStale_UpstreamDownIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.seed(t, domain.Record{
		UserID: "stale", IsPremium: true, Status: domain.StatusActive,
		ExpiresAt: domain.TimePtr(testNow.Add(days(3))), SubscriptionID: domain.StringPtr("sub_stale"),
	})
	f.source.err = errors.New("connection reset")

	updated, err := f.svc.SweepStale(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, updated)
}

