package domain

import (
	"context"
	"errors"
)

// Outcome describes what a reconciliation attempt did to the persisted record.
type Outcome string

const (
	OutcomeUpdated         Outcome = "updated"
	OutcomeUnchanged       Outcome = "unchanged"
	OutcomeSkippedCooldown Outcome = "skipped_cooldown"
	OutcomeSkippedUpstream Outcome = "skipped_upstream"
	OutcomeIgnored         Outcome = "ignored"
)

// Source names the signal that triggered a reconciliation.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourcePoll     Source = "poll"
	SourceEnforcer Source = "enforcer"
)

type Result struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
	Record  Record  `json:"record"`
}

type ReconcileRequest struct {
	UserID         string `json:"-"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Force          bool   `json:"force,omitempty"`
}

// SubscriptionSource answers what the billing provider currently reports for
// a subscription.
type SubscriptionSource interface {
	DefaultProvider() string
	GetSubscription(ctx context.Context, provider, subscriptionID string) (*Snapshot, error)
}

type Service interface {
	Get(ctx context.Context, userID string) (Record, error)
	ApplyEvent(ctx context.Context, userID string, evt ProviderEvent) (Result, error)
	Reconcile(ctx context.Context, req ReconcileRequest) (Result, error)
	EnforceExpiry(ctx context.Context, userID string) (Result, error)
	SweepExpired(ctx context.Context, limit int) (int, error)
	SweepStale(ctx context.Context, limit int) (int, error)
}

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidEvent         = errors.New("invalid_event")
	ErrNoSubscription       = errors.New("no_subscription")
	ErrOwnershipMismatch    = errors.New("ownership_mismatch")
	ErrVersionConflict      = errors.New("version_conflict")
	ErrProviderNotFound     = errors.New("provider_not_found")
	ErrUpstreamUnavailable  = errors.New("upstream_unavailable")
	ErrReconcileUnavailable = errors.New("reconcile_unavailable")
)
