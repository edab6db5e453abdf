package engine

import (
	"time"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

// Reason explains a decision in logs, metrics and API responses.
type Reason string

const (
	ReasonUnchanged              Reason = "unchanged"
	ReasonActivated              Reason = "activated"
	ReasonRenewed                Reason = "renewed"
	ReasonReactivated            Reason = "reactivated"
	ReasonCancellationScheduled  Reason = "cancellation_scheduled"
	ReasonTerminated             Reason = "terminated"
	ReasonExpiryElapsed          Reason = "expiry_elapsed"
	ReasonExpiryCorrected        Reason = "expiry_corrected"
	ReasonSubscriptionBound      Reason = "subscription_bound"
	ReasonFallbackExpiryRetained Reason = "fallback_expiry_retained"
	ReasonNoEntitlementToCancel  Reason = "no_entitlement_to_cancel"
)

// Decision is the outcome of reconciling one snapshot against a persisted
// record. State is the full record the caller should persist when
// ShouldWrite is set; it equals the input record otherwise.
type Decision struct {
	ShouldWrite  bool
	State        domain.Record
	Status       domain.Status
	Reason       Reason
	ExpirySource ExpirySource
}

// Decide reconciles a provider snapshot against the persisted record.
//
// An expiry taken from the fallback duration never moves a known future
// expiry, and a cancellation resolved that way keeps whatever expiry is
// already known. Provider dates and a stated billing interval always win,
// earlier ones included.
func Decide(rec domain.Record, snap domain.Snapshot, now time.Time, policy Policy) Decision {
	return decide(rec, snap, now.UTC(), policy.withDefaults())
}

func decide(rec domain.Record, snap domain.Snapshot, now time.Time, policy Policy) Decision {
	status := ResolveStatus(snap)
	expiry := ResolveExpiry(snap, now, policy.FallbackDuration)

	unchanged := Decision{State: rec, Status: rec.Status, Reason: ReasonUnchanged, ExpirySource: expiry.Source}

	if status == domain.StatusCancelled && !rec.HoldsEntitlement() && !expiry.Authoritative() {
		unchanged.Reason = ReasonNoEntitlementToCancel
		return unchanged
	}

	next := rec.Clone()
	if snap.Provider != "" {
		next.Provider = snap.Provider
	}

	retained := false
	switch status {
	case domain.StatusExpired:
		next.IsPremium = false
		next.ExpiresAt = nil
		next.Status = domain.StatusExpired
	default:
		at := expiry.At
		if expiry.Source == ExpiryFromFallback && rec.ExpiresAt != nil &&
			(rec.ExpiresAt.After(now) || status == domain.StatusCancelled) {
			at = domain.TimePtr(*rec.ExpiresAt)
			retained = true
		}
		next.ExpiresAt = at
		next.Status = status
		next.IsPremium = true
		if !now.Before(*at) {
			next.IsPremium = false
			next.Status = domain.StatusExpired
		}
	}

	// A subscription id binds once. It is replaced only when a new
	// subscription re-enters a paid period after the old one stopped
	// granting access.
	if snap.SubscriptionID != "" &&
		(next.SubscriptionID == nil || (!rec.HoldsEntitlement() && next.HoldsEntitlement())) {
		next.SubscriptionID = domain.StringPtr(snap.SubscriptionID)
	}

	reason := ReasonTerminated
	if status != domain.StatusExpired {
		reason = transitionReason(rec, next)
	}

	if !recordChanged(rec, next) {
		if retained {
			unchanged.Reason = ReasonFallbackExpiryRetained
		}
		return unchanged
	}

	return Decision{
		ShouldWrite:  true,
		State:        next,
		Status:       next.Status,
		Reason:       reason,
		ExpirySource: expiry.Source,
	}
}

func transitionReason(prev, next domain.Record) Reason {
	switch {
	case next.Status == domain.StatusExpired:
		return ReasonExpiryElapsed
	case next.Status == domain.StatusCancelled && prev.Status != domain.StatusCancelled:
		return ReasonCancellationScheduled
	case next.Status == domain.StatusActive && prev.Status == domain.StatusCancelled:
		return ReasonReactivated
	case next.Status == domain.StatusActive && prev.Status != domain.StatusActive:
		return ReasonActivated
	case !sameTime(prev.ExpiresAt, next.ExpiresAt):
		if prev.ExpiresAt != nil && next.ExpiresAt.Before(*prev.ExpiresAt) {
			return ReasonExpiryCorrected
		}
		return ReasonRenewed
	default:
		return ReasonSubscriptionBound
	}
}

func recordChanged(prev, next domain.Record) bool {
	return prev.Status != next.Status ||
		prev.IsPremium != next.IsPremium ||
		!sameTime(prev.ExpiresAt, next.ExpiresAt) ||
		prev.BoundSubscriptionID() != next.BoundSubscriptionID()
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
