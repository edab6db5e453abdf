package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, userID string) (domain.Record, error) {
	var rec domain.Record
	err := db.WithContext(ctx).Where("user_id = ?", userID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NewRecord(userID), nil
	}
	if err != nil {
		return domain.Record{}, err
	}
	return rec, nil
}

// ConditionalWrite persists record only if the stored version still equals
// expectedVersion. Version 0 means the row must not exist yet.
func (r *repo) ConditionalWrite(ctx context.Context, db *gorm.DB, expectedVersion int64, record domain.Record) (domain.Record, error) {
	out := record.Clone()
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now().UTC()
	}
	out.Version = expectedVersion + 1

	if expectedVersion == 0 {
		if out.CreatedAt.IsZero() {
			out.CreatedAt = out.UpdatedAt
		}
		res := db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
			Create(&out)
		if res.Error != nil {
			return domain.Record{}, writeError(res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.Record{}, domain.ErrVersionConflict
		}
		return out, nil
	}

	res := db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("user_id = ? AND version = ?", out.UserID, expectedVersion).
		Updates(map[string]any{
			"is_premium":         out.IsPremium,
			"expires_at":         out.ExpiresAt,
			"status":             string(out.Status),
			"subscription_id":    out.SubscriptionID,
			"provider":           out.Provider,
			"last_reconciled_at": out.LastReconciledAt,
			"version":            out.Version,
			"updated_at":         out.UpdatedAt,
		})
	if res.Error != nil {
		return domain.Record{}, writeError(res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.Record{}, domain.ErrVersionConflict
	}

	stored, err := r.Get(ctx, db, out.UserID)
	if err != nil {
		return domain.Record{}, err
	}
	return stored, nil
}

// Touch stamps last_reconciled_at without bumping the version. Users without
// a stored row have nothing to stamp.
func (r *repo) Touch(ctx context.Context, db *gorm.DB, userID string, expectedVersion int64, at time.Time) error {
	if expectedVersion == 0 {
		return nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Record{}).
		Where("user_id = ? AND version = ?", userID, expectedVersion).
		UpdateColumn("last_reconciled_at", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	return nil
}

func (r *repo) ListExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Record, error) {
	var items []domain.Record
	err := db.WithContext(ctx).
		Where("is_premium = ? AND expires_at IS NOT NULL AND expires_at < ?", true, now.UTC()).
		Order("expires_at ASC").
		Limit(normalizeLimit(limit)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListStale(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Record, error) {
	var items []domain.Record
	err := db.WithContext(ctx).
		Where("is_premium = ? AND subscription_id IS NOT NULL", true).
		Where("(last_reconciled_at IS NULL OR last_reconciled_at < ?)", before.UTC()).
		Order("user_id ASC").
		Limit(normalizeLimit(limit)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// writeError folds races the database reports as errors into a version
// conflict so the caller re-reads and decides again.
func writeError(err error) error {
	if db.IsDuplicateKeyErr(err) || db.IsRetryable(err) {
		return fmt.Errorf("%w: %v", domain.ErrVersionConflict, err)
	}
	return err
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
