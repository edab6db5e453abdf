package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smallbiznis/entitlementd/internal/webhook/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// InsertEvent reports false when the provider event id was already stored.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, userID, outcome string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed_at = ?, user_id = ?, outcome = ?
		 WHERE id = ?`,
		processedAt,
		userID,
		outcome,
		id,
	).Error
}
