// Package domain defines the contracts billing provider integrations implement.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
)

// WebhookAdapter authenticates and decodes provider webhook deliveries.
type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte, headers http.Header) (*entdomain.ProviderEvent, error)
}

// Client queries the provider for the current state of a subscription.
type Client interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*entdomain.Snapshot, error)
}

type Factory interface {
	Provider() string
	NewAdapter(cfg ProviderConfig) (WebhookAdapter, error)
	NewClient(cfg ProviderConfig) (Client, error)
}

// ProviderConfig carries the credentials of a single provider.
type ProviderConfig struct {
	Provider      string
	APIKey        string
	APISecret     string
	WebhookSecret string
	BaseURL       string
	Timeout       time.Duration
}

var (
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrEventIgnored          = errors.New("event_ignored")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrUpstreamUnavailable   = errors.New("upstream_unavailable")
	ErrInvalidSubscriptionID = errors.New("invalid_subscription_id")
)
