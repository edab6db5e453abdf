package engine

import (
	"strings"
	"time"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

// NormalizeEvent turns a provider webhook event into a canonical snapshot.
// The boolean is false for events that carry no entitlement meaning.
func NormalizeEvent(evt domain.ProviderEvent, rec domain.Record) (domain.Snapshot, bool) {
	snap := domain.Snapshot{
		SubscriptionID: strings.TrimSpace(evt.SubscriptionID),
		Provider:       strings.ToLower(strings.TrimSpace(evt.Provider)),
	}

	switch evt.Type {
	case domain.EventActivated, domain.EventCreated, domain.EventRenewed:
		snap.RawStatus = "active"
		snap.NextChargeAt = cloneTime(evt.NextChargeAt)
		snap.PeriodEndAt = cloneTime(evt.PeriodEndAt)
		snap.BillingIntervalDays = cloneInt(evt.BillingIntervalDays)
	case domain.EventCancelled:
		snap.RawStatus = "cancelled"
		snap.ScheduledCancellation = true
		cancellationDates(&snap, evt, rec)
	case domain.EventStatusChanged:
		snap.RawStatus = strings.ToLower(strings.TrimSpace(evt.RawStatus))
		switch ResolveStatus(snap) {
		case domain.StatusActive:
			snap.NextChargeAt = cloneTime(evt.NextChargeAt)
			snap.PeriodEndAt = cloneTime(evt.PeriodEndAt)
			snap.BillingIntervalDays = cloneInt(evt.BillingIntervalDays)
		case domain.StatusCancelled:
			cancellationDates(&snap, evt, rec)
		}
	case domain.EventExpired, domain.EventPaymentFailed:
		snap.RawStatus = "expired"
	default:
		return domain.Snapshot{}, false
	}

	return snap, true
}

// cancellationDates copies a provider date onto snap only when rec has no
// expiry yet. Known expiry wins; a cancellation alone carries no new date.
func cancellationDates(snap *domain.Snapshot, evt domain.ProviderEvent, rec domain.Record) {
	if rec.ExpiresAt != nil {
		return
	}
	switch {
	case evt.PeriodEndAt != nil:
		snap.PeriodEndAt = cloneTime(evt.PeriodEndAt)
	case evt.NextChargeAt != nil:
		snap.PeriodEndAt = cloneTime(evt.NextChargeAt)
	}
}

// ApplyEvent normalizes evt and runs it through Decide. The boolean is false
// when the event was ignored and no decision was made.
func ApplyEvent(rec domain.Record, evt domain.ProviderEvent, now time.Time, policy Policy) (Decision, bool) {
	snap, ok := NormalizeEvent(evt, rec)
	if !ok {
		return Decision{State: rec, Status: rec.Status, Reason: ReasonUnchanged}, false
	}
	return Decide(rec, snap, now, policy), true
}

// IdentityKind says how a webhook event identifies its user.
type IdentityKind string

const (
	IdentityDirect IdentityKind = "direct"
	IdentityEmail  IdentityKind = "email"
	IdentityNone   IdentityKind = "none"
)

type IdentityHint struct {
	Kind   IdentityKind
	UserID string
	Email  string
}

// ResolveIdentity picks the strongest identity hint an event carries. The
// lookup behind an email hint belongs to the caller.
func ResolveIdentity(evt domain.ProviderEvent) IdentityHint {
	if id := strings.TrimSpace(evt.UserID); id != "" {
		return IdentityHint{Kind: IdentityDirect, UserID: id}
	}
	if email := strings.ToLower(strings.TrimSpace(evt.Email)); email != "" {
		return IdentityHint{Kind: IdentityEmail, Email: email}
	}
	return IdentityHint{Kind: IdentityNone}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	return domain.TimePtr(*t)
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
