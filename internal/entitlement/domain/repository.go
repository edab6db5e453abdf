package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Get(ctx context.Context, db *gorm.DB, userID string) (Record, error)
	ConditionalWrite(ctx context.Context, db *gorm.DB, expectedVersion int64, record Record) (Record, error)
	Touch(ctx context.Context, db *gorm.DB, userID string, expectedVersion int64, at time.Time) error
	ListExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Record, error)
	ListStale(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Record, error)
}
