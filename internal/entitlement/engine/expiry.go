package engine

import (
	"time"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

// ExpirySource records which branch of the resolver produced an expiry.
type ExpirySource string

const (
	ExpiryFromNextCharge ExpirySource = "next_charge"
	ExpiryFromPeriodEnd  ExpirySource = "period_end"
	ExpiryFromInterval   ExpirySource = "interval"
	ExpiryFromFallback   ExpirySource = "fallback"
)

type Expiry struct {
	At     *time.Time
	Source ExpirySource
}

// Authoritative reports whether the expiry came from a date the provider
// supplied, as opposed to one derived locally from a cadence or default.
func (e Expiry) Authoritative() bool {
	return e.Source == ExpiryFromNextCharge || e.Source == ExpiryFromPeriodEnd
}

// ResolveExpiry computes the canonical expiry of a snapshot. The renewal date
// wins over the period boundary because it is what actually gates access.
func ResolveExpiry(snap domain.Snapshot, now time.Time, fallback time.Duration) Expiry {
	if snap.NextChargeAt != nil && !snap.NextChargeAt.IsZero() {
		return Expiry{At: domain.TimePtr(*snap.NextChargeAt), Source: ExpiryFromNextCharge}
	}
	if snap.PeriodEndAt != nil && !snap.PeriodEndAt.IsZero() {
		return Expiry{At: domain.TimePtr(*snap.PeriodEndAt), Source: ExpiryFromPeriodEnd}
	}
	if snap.BillingIntervalDays != nil && *snap.BillingIntervalDays > 0 {
		at := now.Add(time.Duration(*snap.BillingIntervalDays) * 24 * time.Hour)
		return Expiry{At: domain.TimePtr(at), Source: ExpiryFromInterval}
	}
	if fallback <= 0 {
		fallback = DefaultFallbackDuration
	}
	return Expiry{At: domain.TimePtr(now.Add(fallback)), Source: ExpiryFromFallback}
}
