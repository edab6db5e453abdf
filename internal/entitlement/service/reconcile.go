package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	billingdomain "github.com/smallbiznis/entitlementd/internal/billingprovider/domain"
	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/entitlement/engine"
	"github.com/smallbiznis/entitlementd/internal/observability/logger"
)

const (
	reasonUpstreamUnavailable  = "upstream_unavailable"
	reasonSubscriptionNotFound = "subscription_not_found"
	reasonCooldown             = "cooldown"
)

// Reconcile polls the billing provider for the user's subscription and
// applies the answer. The provider call happens outside the user lock; the
// write is still version checked.
func (s *Service) Reconcile(ctx context.Context, req domain.ReconcileRequest) (domain.Result, error) {
	userID, err := normalizeUserID(req.UserID)
	if err != nil {
		return domain.Result{}, err
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("user_id", userID), zap.String("source", string(domain.SourcePoll)))

	rec, err := s.repo.Get(ctx, s.db, userID)
	if err != nil {
		return domain.Result{}, err
	}

	// Local expiry is enforced no matter what the provider or cooldown say.
	if engine.Enforce(rec, s.clock.Now()).ShouldRevoke {
		enforced, err := s.EnforceExpiry(ctx, userID)
		if err != nil {
			return domain.Result{}, err
		}
		rec = enforced.Record
	}

	subscriptionID := strings.TrimSpace(req.SubscriptionID)
	if err := checkOwnership(rec, subscriptionID); err != nil {
		log.Warn("reconcile requested for a foreign subscription", zap.String("subscription_id", subscriptionID))
		return domain.Result{}, err
	}
	if subscriptionID == "" {
		subscriptionID = rec.BoundSubscriptionID()
	}
	if subscriptionID == "" {
		return domain.Result{}, domain.ErrNoSubscription
	}

	policy := s.enginePolicy()
	if !req.Force && engine.ShouldSkipPoll(rec.LastReconciledAt, policy.PollCooldown, s.clock.Now()) {
		s.metrics.IncReconciliation(string(domain.SourcePoll), string(domain.OutcomeSkippedCooldown))
		return domain.Result{Outcome: domain.OutcomeSkippedCooldown, Reason: reasonCooldown, Record: rec}, nil
	}

	if s.source == nil {
		return domain.Result{}, domain.ErrReconcileUnavailable
	}

	provider := rec.Provider
	if provider == "" {
		provider = s.source.DefaultProvider()
	}

	start := time.Now()
	snap, err := s.source.GetSubscription(ctx, provider, subscriptionID)
	if err != nil {
		return s.upstreamFailure(ctx, log, rec, provider, err)
	}
	if snap.SubscriptionID == "" {
		snap.SubscriptionID = subscriptionID
	}
	log.Debug("provider snapshot fetched",
		zap.String("provider", provider),
		zap.String("raw_status", snap.RawStatus),
		zap.Duration("latency", time.Since(start)),
	)

	res, err := s.commit(ctx, userID, domain.SourcePoll, func(current domain.Record, now time.Time, policy engine.Policy) (step, error) {
		if err := checkOwnership(current, snap.SubscriptionID); err != nil {
			return step{}, err
		}
		return step{snap: *snap, decision: engine.Decide(current, *snap, now, policy)}, nil
	})
	if err != nil {
		return domain.Result{}, err
	}

	log.Info("reconciled against provider",
		zap.String("provider", provider),
		zap.String("outcome", string(res.Outcome)),
		zap.String("reason", res.Reason),
		zap.Bool("is_premium", res.Record.IsPremium),
	)
	return res, nil
}

// upstreamFailure leaves the record untouched so the next poll retries.
func (s *Service) upstreamFailure(ctx context.Context, log *zap.Logger, rec domain.Record, provider string, err error) (domain.Result, error) {
	switch {
	case errors.Is(err, billingdomain.ErrProviderNotFound), errors.Is(err, billingdomain.ErrInvalidConfig):
		log.Error("billing provider not configured", zap.String("provider", provider), zap.Error(err))
		return domain.Result{}, domain.ErrReconcileUnavailable
	case errors.Is(err, billingdomain.ErrSubscriptionNotFound):
		log.Warn("provider does not know the subscription", zap.String("provider", provider))
		s.metrics.IncReconciliation(string(domain.SourcePoll), string(domain.OutcomeSkippedUpstream))
		return domain.Result{Outcome: domain.OutcomeSkippedUpstream, Reason: reasonSubscriptionNotFound, Record: rec}, nil
	case ctx.Err() != nil:
		return domain.Result{}, ctx.Err()
	default:
		log.Warn("provider unavailable, keeping last known state", zap.String("provider", provider), zap.Error(err))
		s.metrics.IncReconciliation(string(domain.SourcePoll), string(domain.OutcomeSkippedUpstream))
		return domain.Result{Outcome: domain.OutcomeSkippedUpstream, Reason: reasonUpstreamUnavailable, Record: rec}, nil
	}
}
