package engine

import (
	"strings"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

// ResolveStatus maps a snapshot to an effective status. The mapping is total:
// unknown provider statuses degrade to cancelled, never to active.
func ResolveStatus(snap domain.Snapshot) domain.Status {
	// Provider raw status lags its own cancellation metadata.
	if snap.ScheduledCancellation || snap.CancelledAt != nil {
		return domain.StatusCancelled
	}

	switch strings.ToLower(strings.TrimSpace(snap.RawStatus)) {
	case "cancelled", "canceled":
		return domain.StatusCancelled
	case "expired", "completed", "ended", "incomplete_expired":
		return domain.StatusExpired
	case "past_due", "unpaid", "paused", "halted", "pending", "on_hold", "incomplete":
		return domain.StatusCancelled
	case "active", "trialing", "authenticated", "renewed", "resumed":
		return domain.StatusActive
	default:
		return domain.StatusCancelled
	}
}
