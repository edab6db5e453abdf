package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/entitlementd/internal/clock"
	"github.com/smallbiznis/entitlementd/internal/config"
	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/entitlement/engine"
	"github.com/smallbiznis/entitlementd/internal/events"
	"github.com/smallbiznis/entitlementd/internal/lock"
	"github.com/smallbiznis/entitlementd/internal/observability/logger"
	"github.com/smallbiznis/entitlementd/internal/observability/metrics"
)

const (
	maxWriteAttempts = 3
	lockWait         = 5 * time.Second
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Repo      domain.Repository
	Locker    lock.Locker
	Publisher events.Publisher
	Policy    *config.PolicyHolder
	Clock     clock.Clock
	Source    domain.SubscriptionSource   `optional:"true"`
	Metrics   *metrics.EntitlementMetrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	repo      domain.Repository
	locker    lock.Locker
	publisher events.Publisher
	policy    *config.PolicyHolder
	clock     clock.Clock
	source    domain.SubscriptionSource
	metrics   *metrics.EntitlementMetrics
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("entitlement.service"),
		repo:      p.Repo,
		locker:    p.Locker,
		publisher: p.Publisher,
		policy:    p.Policy,
		clock:     p.Clock,
		source:    p.Source,
		metrics:   p.Metrics,
	}
}

func (s *Service) Get(ctx context.Context, userID string) (domain.Record, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return domain.Record{}, err
	}
	return s.repo.Get(ctx, s.db, userID)
}

// ApplyEvent reconciles one normalized webhook event for userID.
func (s *Service) ApplyEvent(ctx context.Context, userID string, evt domain.ProviderEvent) (domain.Result, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return domain.Result{}, err
	}
	if evt.Type == "" {
		return domain.Result{}, domain.ErrInvalidEvent
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("user_id", userID),
		zap.String("provider", evt.Provider),
		zap.String("event_id", evt.ID),
		zap.String("event_type", string(evt.Type)),
	)

	res, err := s.commit(ctx, userID, domain.SourceWebhook, func(stored domain.Record, now time.Time, policy engine.Policy) (step, error) {
		// A lapsed record no longer owns its subscription, so the event is
		// judged against the enforced state.
		revocation := engine.Enforce(stored, now)
		rec := revocation.State
		if err := checkOwnership(rec, evt.SubscriptionID); err != nil {
			return step{}, err
		}
		snap, ok := engine.NormalizeEvent(evt, rec)
		if !ok {
			if revocation.ShouldRevoke {
				return revokeStep(revocation), nil
			}
			return step{ignored: true}, nil
		}
		d := engine.Decide(rec, snap, now, policy)
		if revocation.ShouldRevoke && !d.ShouldWrite {
			d.ShouldWrite = true
			d.Reason = engine.ReasonExpiryElapsed
		}
		return step{snap: snap, decision: d, enforced: revocation.ShouldRevoke}, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrOwnershipMismatch) {
			log.Warn("event subscription does not own this entitlement", zap.String("subscription_id", evt.SubscriptionID))
		}
		return domain.Result{}, err
	}

	log.Info("webhook event applied",
		zap.String("outcome", string(res.Outcome)),
		zap.String("reason", res.Reason),
		zap.Bool("is_premium", res.Record.IsPremium),
		zap.String("status", string(res.Record.Status)),
	)
	return res, nil
}

// EnforceExpiry runs the local expiry enforcer against the stored record.
func (s *Service) EnforceExpiry(ctx context.Context, userID string) (domain.Result, error) {
	userID, err := normalizeUserID(userID)
	if err != nil {
		return domain.Result{}, err
	}

	// Fast path: most reads find nothing to revoke and need no lock.
	rec, err := s.repo.Get(ctx, s.db, userID)
	if err != nil {
		return domain.Result{}, err
	}
	if !engine.Enforce(rec, s.clock.Now()).ShouldRevoke {
		return domain.Result{Outcome: domain.OutcomeUnchanged, Reason: string(engine.ReasonUnchanged), Record: rec}, nil
	}

	return s.commit(ctx, userID, domain.SourceEnforcer, func(rec domain.Record, now time.Time, _ engine.Policy) (step, error) {
		return revokeStep(engine.Enforce(rec, now)), nil
	})
}

// revokeStep persists a revocation on its own, without touching the
// reconciliation marker.
func revokeStep(revocation engine.Revocation) step {
	d := engine.Decision{
		ShouldWrite: revocation.ShouldRevoke,
		State:       revocation.State,
		Status:      revocation.State.Status,
		Reason:      engine.ReasonUnchanged,
	}
	if revocation.ShouldRevoke {
		d.Reason = engine.ReasonExpiryElapsed
	}
	return step{decision: d, skipTouch: true}
}

// step is what one attempt of a commit decided.
type step struct {
	decision  engine.Decision
	snap      domain.Snapshot
	ignored   bool
	skipTouch bool
	// enforced marks a decision made on a record the enforcer revoked first.
	enforced bool
}

type decideFunc func(rec domain.Record, now time.Time, policy engine.Policy) (step, error)

// commit serializes userID and runs read, decide and conditional write,
// retrying when a concurrent writer bumped the version in between.
func (s *Service) commit(ctx context.Context, userID string, source domain.Source, decide decideFunc) (domain.Result, error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockWait)
	unlock, err := s.locker.Lock(lockCtx, lock.UserKey(userID))
	cancel()
	if err != nil {
		return domain.Result{}, err
	}
	defer unlock()

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		rec, err := s.repo.Get(ctx, s.db, userID)
		if err != nil {
			return domain.Result{}, err
		}

		now := s.clock.Now()
		policy := s.enginePolicy()
		st, err := decide(rec, now, policy)
		if err != nil {
			return domain.Result{}, err
		}
		if st.ignored {
			s.metrics.IncReconciliation(string(source), string(domain.OutcomeIgnored))
			return domain.Result{Outcome: domain.OutcomeIgnored, Reason: "event_ignored", Record: rec}, nil
		}

		d := st.decision
		s.checkInvariants(ctx, rec, st, now, policy)

		if !d.ShouldWrite {
			if !st.skipTouch {
				if err := s.repo.Touch(ctx, s.db, userID, rec.Version, now); err != nil {
					if errors.Is(err, domain.ErrVersionConflict) {
						s.metrics.IncConflict()
						continue
					}
					return domain.Result{}, err
				}
				if rec.Exists() {
					rec.LastReconciledAt = domain.TimePtr(now)
				}
			}
			s.metrics.IncReconciliation(string(source), string(domain.OutcomeUnchanged))
			return domain.Result{Outcome: domain.OutcomeUnchanged, Reason: string(d.Reason), Record: rec}, nil
		}

		next := d.State
		next.UserID = userID
		next.UpdatedAt = now
		if !st.skipTouch {
			next.LastReconciledAt = domain.TimePtr(now)
		}
		stored, err := s.repo.ConditionalWrite(ctx, s.db, rec.Version, next)
		if errors.Is(err, domain.ErrVersionConflict) {
			s.metrics.IncConflict()
			logger.WithContext(ctx, s.log).Debug("entitlement write conflict, retrying",
				zap.String("user_id", userID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return domain.Result{}, err
		}

		s.recordWrite(ctx, rec, stored, d.Reason, source)
		return domain.Result{Outcome: domain.OutcomeUpdated, Reason: string(d.Reason), Record: stored}, nil
	}
	return domain.Result{}, domain.ErrVersionConflict
}

func (s *Service) recordWrite(ctx context.Context, prev, stored domain.Record, reason engine.Reason, source domain.Source) {
	s.metrics.IncReconciliation(string(source), string(domain.OutcomeUpdated))
	s.metrics.IncWrite(string(reason))
	if prev.IsPremium && !stored.IsPremium {
		s.metrics.IncRevocation(string(source))
	}

	if s.publisher == nil {
		return
	}
	err := events.PublishEntitlementChanged(ctx, s.publisher, events.EntitlementChanged{
		UserID:         stored.UserID,
		PreviousStatus: string(prev.Status),
		Status:         string(stored.Status),
		IsPremium:      stored.IsPremium,
		ExpiresAt:      stored.ExpiresAt,
		SubscriptionID: stored.BoundSubscriptionID(),
		Reason:         string(reason),
		Source:         string(source),
		Version:        stored.Version,
		OccurredAt:     stored.UpdatedAt,
	})
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("failed to publish entitlement change",
			zap.String("user_id", stored.UserID),
			zap.Error(err),
		)
	}
}

func (s *Service) checkInvariants(ctx context.Context, prev domain.Record, st step, now time.Time, policy engine.Policy) {
	// The enforcer has no snapshot; its transition is checked as a state.
	var violations []engine.Violation
	switch {
	case st.skipTouch:
		violations = engine.CheckState(st.decision.State, now)
	case st.enforced:
		violations = engine.CheckTransition(engine.Enforce(prev, now).State, st.snap, st.decision, now, policy)
	default:
		violations = engine.CheckTransition(prev, st.snap, st.decision, now, policy)
	}
	for _, v := range violations {
		s.metrics.IncViolation(string(v.Rule))
		logger.WithContext(ctx, s.log).Error("entitlement invariant violated",
			zap.String("user_id", prev.UserID),
			zap.String("rule", string(v.Rule)),
			zap.String("detail", v.Detail),
		)
	}
}

func (s *Service) enginePolicy() engine.Policy {
	if s.policy == nil {
		return engine.DefaultPolicy()
	}
	p := s.policy.Get()
	return engine.Policy{
		FallbackDuration: p.FallbackDuration,
		PollCooldown:     p.PollCooldown,
	}
}

// checkOwnership rejects a subscription other than the one bound to a record
// that still holds entitlement.
func checkOwnership(rec domain.Record, subscriptionID string) error {
	subscriptionID = strings.TrimSpace(subscriptionID)
	bound := rec.BoundSubscriptionID()
	if subscriptionID == "" || bound == "" || !rec.HoldsEntitlement() {
		return nil
	}
	if subscriptionID != bound {
		return domain.ErrOwnershipMismatch
	}
	return nil
}

func normalizeUserID(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", domain.ErrInvalidUser
	}
	return userID, nil
}
