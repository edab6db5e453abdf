package engine

import (
	"time"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

type Revocation struct {
	ShouldRevoke bool
	State        domain.Record
}

// Enforce revokes premium access whose expiry has passed. It depends only on
// the persisted record and the clock. The expiry timestamp is kept.
func Enforce(rec domain.Record, now time.Time) Revocation {
	if !rec.IsPremium || rec.ExpiresAt == nil || !now.After(*rec.ExpiresAt) {
		return Revocation{State: rec}
	}
	next := rec.Clone()
	next.IsPremium = false
	next.Status = domain.StatusExpired
	return Revocation{ShouldRevoke: true, State: next}
}
