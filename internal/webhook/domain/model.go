package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WebhookEvent is the durable receipt of one provider delivery, keyed by the
// provider's own event id.
type WebhookEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_provider_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:varchar(191);not null;uniqueIndex:ux_webhook_events_provider_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	UserID          string         `json:"user_id,omitempty" gorm:"type:text;not null;default:''"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	Outcome         string         `json:"outcome,omitempty" gorm:"type:text;not null;default:''"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

const (
	AckOK                = "ok"
	AckDuplicate         = "duplicate"
	AckIgnored           = "ignored"
	AckDropped           = "dropped"
	AckRejectedOwnership = "rejected_ownership"
)

// Processing outcomes recorded on the stored event besides the
// entitlement result itself.
const (
	OutcomeUnknownUser       = "dropped_unknown_user"
	OutcomeNoIdentity        = "dropped_no_identity"
	OutcomeRejectedOwnership = "rejected_ownership"
)

// Ack is returned to the provider. Every Ack is a 2xx: the provider must not
// redeliver.
type Ack struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	UserID  string `json:"user_id,omitempty"`
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*WebhookEvent, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, userID, outcome string, processedAt time.Time) error
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (Ack, error)
}

var (
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrInvalidEvent    = errors.New("invalid_webhook_event")
)
