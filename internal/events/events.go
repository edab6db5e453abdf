// Package events publishes entitlement change notifications to downstream
// consumers.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smallbiznis/entitlementd/pkg/telemetry/correlation"
)

const RoutingKeyEntitlementChanged = "entitlement.changed"

type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// EntitlementChanged is emitted after every persisted entitlement write.
type EntitlementChanged struct {
	UserID         string     `json:"user_id"`
	PreviousStatus string     `json:"previous_status"`
	Status         string     `json:"status"`
	IsPremium      bool       `json:"is_premium"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	Reason         string     `json:"reason"`
	Source         string     `json:"source"`
	Version        int64      `json:"version"`
	OccurredAt     time.Time  `json:"occurred_at"`
	CorrelationID  string     `json:"correlation_id,omitempty"`
}

// PublishEntitlementChanged fills CorrelationID from ctx when unset.
func PublishEntitlementChanged(ctx context.Context, p Publisher, evt EntitlementChanged) error {
	if evt.CorrelationID == "" {
		evt.CorrelationID = correlation.FromContext(ctx)
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.Publish(ctx, RoutingKeyEntitlementChanged, payload)
}
