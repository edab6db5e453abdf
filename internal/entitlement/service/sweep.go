package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/observability/logger"
)

// SweepExpired revokes every premium record whose expiry has passed and
// returns how many were revoked.
func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	rows, err := s.repo.ListExpired(ctx, s.db, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}

	revoked := 0
	var errs []error
	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.EnforceExpiry(ctx, rec.UserID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if res.Outcome == domain.OutcomeUpdated {
			revoked++
		}
	}
	return revoked, errors.Join(errs...)
}

// SweepStale polls every bound premium record not reconciled within the
// poll cooldown and returns how many changed.
func (s *Service) SweepStale(ctx context.Context, limit int) (int, error) {
	before := s.clock.Now().Add(-s.enginePolicy().PollCooldown)
	rows, err := s.repo.ListStale(ctx, s.db, before, limit)
	if err != nil {
		return 0, err
	}

	log := logger.WithContext(ctx, s.log)
	updated := 0
	var errs []error
	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := s.Reconcile(ctx, domain.ReconcileRequest{UserID: rec.UserID})
		switch {
		case errors.Is(err, domain.ErrOwnershipMismatch), errors.Is(err, domain.ErrNoSubscription):
			log.Warn("skipping stale record", zap.String("user_id", rec.UserID), zap.Error(err))
			continue
		case err != nil:
			errs = append(errs, err)
			continue
		}
		if res.Outcome == domain.OutcomeUpdated {
			updated++
		}
	}
	return updated, errors.Join(errs...)
}
