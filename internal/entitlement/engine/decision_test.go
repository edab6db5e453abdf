package engine

import (
	"testing"
	"time"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeRecord(expiry time.Duration) domain.Record {
	return domain.Record{
		UserID:         "user_1",
		IsPremium:      true,
		Status:         domain.StatusActive,
		ExpiresAt:      at(expiry),
		SubscriptionID: domain.StringPtr("sub_1"),
		Provider:       "stripe",
		Version:        3,
	}
}

func assertExpiry(t *testing.T, want *time.Time, got *time.Time) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got), "want expiry %s got %s", want, got)
}

func TestDecide_NoneToActive(t *testing.T) {
	rec := domain.NewRecord("user_1")
	snap := domain.Snapshot{RawStatus: "active", NextChargeAt: at(days(30)), SubscriptionID: "sub_1", Provider: "stripe"}

	d := Decide(rec, snap, testNow, DefaultPolicy())

	require.True(t, d.ShouldWrite)
	assert.True(t, d.State.IsPremium)
	assert.Equal(t, domain.StatusActive, d.State.Status)
	assertExpiry(t, at(days(30)), d.State.ExpiresAt)
	assert.Equal(t, "sub_1", d.State.BoundSubscriptionID())
	assert.Equal(t, "stripe", d.State.Provider)
	assert.Equal(t, ReasonActivated, d.Reason)
	assert.Equal(t, ExpiryFromNextCharge, d.ExpirySource)
}

func TestDecide_ScheduledCancellationKeepsExpiry(t *testing.T) {
	rec := activeRecord(days(10))
	snap := domain.Snapshot{RawStatus: "active", ScheduledCancellation: true}

	d := Decide(rec, snap, testNow, DefaultPolicy())

	require.True(t, d.ShouldWrite)
	assert.Equal(t, domain.StatusCancelled, d.State.Status)
	assert.True(t, d.State.IsPremium)
	assertExpiry(t, rec.ExpiresAt, d.State.ExpiresAt)
	assert.Equal(t, ReasonCancellationScheduled, d.Reason)
}

func TestDecide_DatelessSnapshot(t *testing.T) {
	t.Run("does not shorten a future expiry", func(t *testing.T) {
		rec := activeRecord(days(10))
		d := Decide(rec, domain.Snapshot{RawStatus: "active"}, testNow, DefaultPolicy())

		assert.False(t, d.ShouldWrite)
		assertExpiry(t, rec.ExpiresAt, d.State.ExpiresAt)
		assert.Equal(t, ReasonFallbackExpiryRetained, d.Reason)
	})

	t.Run("does not extend a future expiry either", func(t *testing.T) {
		rec := activeRecord(days(45))
		d := Decide(rec, domain.Snapshot{RawStatus: "active"}, testNow, DefaultPolicy())

		assert.False(t, d.ShouldWrite)
		assertExpiry(t, rec.ExpiresAt, d.State.ExpiresAt)
	})

	t.Run("sets fallback on a null expiry", func(t *testing.T) {
		rec := domain.NewRecord("user_1")
		d := Decide(rec, domain.Snapshot{RawStatus: "active"}, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assertExpiry(t, at(days(30)), d.State.ExpiresAt)
		assert.Equal(t, ExpiryFromFallback, d.ExpirySource)
		assert.True(t, d.State.IsPremium)
	})

	t.Run("interval extends a future expiry", func(t *testing.T) {
		rec := activeRecord(days(10))
		d := Decide(rec, domain.Snapshot{RawStatus: "active", BillingIntervalDays: intPtr(30)}, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assertExpiry(t, at(days(30)), d.State.ExpiresAt)
		assert.True(t, d.State.IsPremium)
		assert.Equal(t, ExpiryFromInterval, d.ExpirySource)
		assert.Equal(t, ReasonRenewed, d.Reason)
	})

	t.Run("interval replaces a later expiry", func(t *testing.T) {
		rec := activeRecord(days(20))
		d := Decide(rec, domain.Snapshot{RawStatus: "active", BillingIntervalDays: intPtr(7)}, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assertExpiry(t, at(days(7)), d.State.ExpiresAt)
		assert.Equal(t, ReasonExpiryCorrected, d.Reason)
	})

	t.Run("cancellation with interval uses the interval", func(t *testing.T) {
		rec := activeRecord(days(20))
		snap := domain.Snapshot{RawStatus: "active", ScheduledCancellation: true, BillingIntervalDays: intPtr(7)}
		d := Decide(rec, snap, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assert.Equal(t, domain.StatusCancelled, d.State.Status)
		assert.True(t, d.State.IsPremium)
		assertExpiry(t, at(days(7)), d.State.ExpiresAt)
	})

	t.Run("interval sets expiry after lapse", func(t *testing.T) {
		rec := activeRecord(-days(2))
		rec.IsPremium = false
		rec.Status = domain.StatusExpired
		d := Decide(rec, domain.Snapshot{RawStatus: "active", BillingIntervalDays: intPtr(7)}, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assertExpiry(t, at(days(7)), d.State.ExpiresAt)
		assert.Equal(t, domain.StatusActive, d.State.Status)
		assert.Equal(t, ReasonActivated, d.Reason)
	})
}

func TestDecide_AuthoritativeDates(t *testing.T) {
	t.Run("later date renews", func(t *testing.T) {
		rec := activeRecord(days(2))
		d := Decide(rec, domain.Snapshot{RawStatus: "active", NextChargeAt: at(days(32))}, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assertExpiry(t, at(days(32)), d.State.ExpiresAt)
		assert.Equal(t, ReasonRenewed, d.Reason)
	})

	t.Run("earlier date is accepted", func(t *testing.T) {
		rec := activeRecord(days(20))
		d := Decide(rec, domain.Snapshot{RawStatus: "active", PeriodEndAt: at(days(5))}, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assertExpiry(t, at(days(5)), d.State.ExpiresAt)
		assert.True(t, d.State.IsPremium)
		assert.Equal(t, ReasonExpiryCorrected, d.Reason)
	})

	t.Run("elapsed date revokes", func(t *testing.T) {
		rec := domain.NewRecord("user_1")
		d := Decide(rec, domain.Snapshot{RawStatus: "active", NextChargeAt: at(-time.Hour)}, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assert.False(t, d.State.IsPremium)
		assert.Equal(t, domain.StatusExpired, d.State.Status)
		assertExpiry(t, at(-time.Hour), d.State.ExpiresAt)
		assert.Equal(t, ReasonExpiryElapsed, d.Reason)
		assert.Empty(t, CheckState(d.State, testNow))
	})

	t.Run("same date is a no-op", func(t *testing.T) {
		rec := activeRecord(days(12))
		d := Decide(rec, domain.Snapshot{RawStatus: "active", NextChargeAt: at(days(12)), SubscriptionID: "sub_1"}, testNow, DefaultPolicy())

		assert.False(t, d.ShouldWrite)
		assert.Equal(t, ReasonUnchanged, d.Reason)
		assert.Equal(t, rec, d.State)
	})
}

func TestDecide_Termination(t *testing.T) {
	rec := activeRecord(days(10))

	d := Decide(rec, domain.Snapshot{RawStatus: "expired"}, testNow, DefaultPolicy())

	require.True(t, d.ShouldWrite)
	assert.False(t, d.State.IsPremium)
	assert.Nil(t, d.State.ExpiresAt)
	assert.Equal(t, domain.StatusExpired, d.State.Status)
	assert.Equal(t, ReasonTerminated, d.Reason)
	assert.Equal(t, "sub_1", d.State.BoundSubscriptionID(), "subscription id survives termination")

	again := Decide(d.State, domain.Snapshot{RawStatus: "expired"}, testNow, DefaultPolicy())
	assert.False(t, again.ShouldWrite)
}

func TestDecide_CancellationWithoutEntitlement(t *testing.T) {
	t.Run("no dates is a no-op", func(t *testing.T) {
		rec := domain.NewRecord("user_1")
		d := Decide(rec, domain.Snapshot{RawStatus: "cancelled", ScheduledCancellation: true, SubscriptionID: "sub_9"}, testNow, DefaultPolicy())

		assert.False(t, d.ShouldWrite)
		assert.Equal(t, ReasonNoEntitlementToCancel, d.Reason)
		assert.Nil(t, d.State.SubscriptionID)
	})

	t.Run("authoritative period end grants the paid period", func(t *testing.T) {
		rec := domain.NewRecord("user_1")
		d := Decide(rec, domain.Snapshot{RawStatus: "cancelled", ScheduledCancellation: true, PeriodEndAt: at(days(4)), SubscriptionID: "sub_9"}, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assert.Equal(t, domain.StatusCancelled, d.State.Status)
		assert.True(t, d.State.IsPremium)
		assertExpiry(t, at(days(4)), d.State.ExpiresAt)
	})
}

func TestDecide_CancellationAfterLapseDoesNotGrantFallback(t *testing.T) {
	rec := activeRecord(-time.Hour)

	d := Decide(rec, domain.Snapshot{RawStatus: "cancelled", ScheduledCancellation: true}, testNow, DefaultPolicy())

	require.True(t, d.ShouldWrite)
	assert.False(t, d.State.IsPremium)
	assert.Equal(t, domain.StatusExpired, d.State.Status)
	assertExpiry(t, rec.ExpiresAt, d.State.ExpiresAt)
}

func TestDecide_Reactivation(t *testing.T) {
	rec := activeRecord(days(10))
	rec.Status = domain.StatusCancelled

	d := Decide(rec, domain.Snapshot{RawStatus: "active", NextChargeAt: at(days(40))}, testNow, DefaultPolicy())

	require.True(t, d.ShouldWrite)
	assert.Equal(t, domain.StatusActive, d.State.Status)
	assert.Equal(t, ReasonReactivated, d.Reason)
}

func TestDecide_SubscriptionBinding(t *testing.T) {
	t.Run("bound id is never replaced while entitled", func(t *testing.T) {
		rec := activeRecord(days(10))
		d := Decide(rec, domain.Snapshot{RawStatus: "active", NextChargeAt: at(days(40)), SubscriptionID: "sub_2"}, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assert.Equal(t, "sub_1", d.State.BoundSubscriptionID())
	})

	t.Run("new subscription rebinds after expiry", func(t *testing.T) {
		rec := activeRecord(-days(3))
		rec.IsPremium = false
		rec.Status = domain.StatusExpired
		d := Decide(rec, domain.Snapshot{RawStatus: "active", NextChargeAt: at(days(30)), SubscriptionID: "sub_2"}, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assert.Equal(t, "sub_2", d.State.BoundSubscriptionID())
	})

	t.Run("id binds on first sight", func(t *testing.T) {
		rec := activeRecord(days(10))
		rec.SubscriptionID = nil
		d := Decide(rec, domain.Snapshot{RawStatus: "active", NextChargeAt: at(days(10)), SubscriptionID: "sub_7"}, testNow, DefaultPolicy())

		require.True(t, d.ShouldWrite)
		assert.Equal(t, "sub_7", d.State.BoundSubscriptionID())
		assert.Equal(t, ReasonSubscriptionBound, d.Reason)
	})

	t.Run("missing id never clears", func(t *testing.T) {
		rec := activeRecord(days(10))
		d := Decide(rec, domain.Snapshot{RawStatus: "active", NextChargeAt: at(days(40))}, testNow, DefaultPolicy())

		assert.Equal(t, "sub_1", d.State.BoundSubscriptionID())
	})
}

func TestDecide_DoesNotMutateInput(t *testing.T) {
	rec := activeRecord(days(10))
	before := rec.Clone()

	_ = Decide(rec, domain.Snapshot{RawStatus: "expired"}, testNow, DefaultPolicy())

	assert.Equal(t, before, rec)
}

func TestDecide_ZeroPolicyUsesDefaults(t *testing.T) {
	d := Decide(domain.NewRecord("user_1"), domain.Snapshot{RawStatus: "active"}, testNow, Policy{})

	require.True(t, d.ShouldWrite)
	assertExpiry(t, at(DefaultFallbackDuration), d.State.ExpiresAt)
}
