package domain

import "time"

// Snapshot is a provider-agnostic view of what the billing provider last
// reported for a subscription. It is built per reconciliation attempt and is
// never persisted as-is.
type Snapshot struct {
	// RawStatus is the provider's native status. Unknown values are tolerated.
	RawStatus string

	NextChargeAt *time.Time
	PeriodEndAt  *time.Time

	// ScheduledCancellation is set when the provider accepted a cancellation
	// that takes effect at period end.
	ScheduledCancellation bool
	// CancelledAt is the provider's cancellation marker, if any.
	CancelledAt *time.Time

	BillingIntervalDays *int

	SubscriptionID string
	Provider       string
}

// HasDates reports whether the snapshot carries any explicit billing date.
func (s Snapshot) HasDates() bool {
	return s.NextChargeAt != nil || s.PeriodEndAt != nil
}

// EventType is the normalized kind of a provider webhook event.
type EventType string

const (
	EventActivated     EventType = "activated"
	EventCreated       EventType = "created"
	EventRenewed       EventType = "renewed"
	EventCancelled     EventType = "cancelled"
	EventExpired       EventType = "expired"
	EventPaymentFailed EventType = "payment_failed"
	// EventStatusChanged carries a provider status the engine resolves.
	EventStatusChanged EventType = "status_changed"
	EventIgnored       EventType = "ignored"
)

// ProviderEvent is the canonical webhook event produced by provider adapters.
type ProviderEvent struct {
	ID             string
	Provider       string
	Type           EventType
	RawType        string
	SubscriptionID string
	// RawStatus is the provider's subscription status for EventStatusChanged.
	RawStatus string

	// UserID is the direct user reference carried by the event, if any.
	UserID string
	// Email is the secondary identity hint used when UserID is absent.
	Email string

	NextChargeAt        *time.Time
	PeriodEndAt         *time.Time
	BillingIntervalDays *int

	OccurredAt time.Time
}
