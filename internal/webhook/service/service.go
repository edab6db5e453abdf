package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/entitlementd/internal/billingprovider/adapters"
	billingdomain "github.com/smallbiznis/entitlementd/internal/billingprovider/domain"
	"github.com/smallbiznis/entitlementd/internal/clock"
	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/entitlement/engine"
	"github.com/smallbiznis/entitlementd/internal/identity"
	"github.com/smallbiznis/entitlementd/internal/observability/logger"
	"github.com/smallbiznis/entitlementd/internal/observability/metrics"
	"github.com/smallbiznis/entitlementd/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Adapters     *adapters.Registry
	Repo         domain.Repository
	Entitlements entdomain.Service
	Identity     identity.Resolver
	Metrics      *metrics.EntitlementMetrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	adapters     *adapters.Registry
	repo         domain.Repository
	entitlements entdomain.Service
	identity     identity.Resolver
	metrics      *metrics.EntitlementMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("webhook.ingest"),
		genID:        p.GenID,
		clock:        p.Clock,
		adapters:     p.Adapters,
		repo:         p.Repo,
		entitlements: p.Entitlements,
		identity:     p.Identity,
		metrics:      p.Metrics,
	}
}

// IngestWebhook verifies, deduplicates and applies one provider delivery.
// A returned error means the provider should retry; an Ack means it must not.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (domain.Ack, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return domain.Ack{}, domain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return domain.Ack{}, billingdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return domain.Ack{}, billingdomain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider)
	if err != nil {
		return domain.Ack{}, err
	}
	if err := adapter.Verify(ctx, payload, headers); err != nil {
		return domain.Ack{}, err
	}

	log := logger.WithContext(ctx, s.log).With(zap.String("provider", provider))

	evt, err := adapter.Parse(ctx, payload, headers)
	if errors.Is(err, billingdomain.ErrEventIgnored) {
		log.Debug("webhook event type ignored")
		s.metrics.IncWebhookEvent(provider, string(entdomain.EventIgnored), domain.AckIgnored)
		return domain.Ack{Status: domain.AckIgnored}, nil
	}
	if err != nil {
		return domain.Ack{}, err
	}
	evt.ID = strings.TrimSpace(evt.ID)
	if evt.ID == "" {
		return domain.Ack{}, domain.ErrInvalidEvent
	}
	evt.Provider = provider
	log = log.With(zap.String("event_id", evt.ID), zap.String("event_type", evt.RawType))

	received := domain.WebhookEvent{
		ID:              s.genID.Generate(),
		Provider:        provider,
		ProviderEventID: evt.ID,
		EventType:       evt.RawType,
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      s.clock.Now(),
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return domain.Ack{}, err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, provider, evt.ID)
		if err != nil {
			return domain.Ack{}, err
		}
		if stored == nil {
			return domain.Ack{}, domain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			log.Info("duplicate webhook delivery", zap.String("outcome", stored.Outcome))
			s.metrics.IncWebhookEvent(provider, string(evt.Type), domain.AckDuplicate)
			return domain.Ack{Status: domain.AckDuplicate, EventID: evt.ID, Outcome: stored.Outcome, UserID: stored.UserID}, nil
		}
	}

	userID, outcome, err := s.resolveUser(ctx, *evt)
	if err != nil {
		return domain.Ack{}, err
	}
	if userID == "" {
		log.Warn("dropping webhook event without a resolvable user",
			zap.String("outcome", outcome),
			zap.String("subscription_id", evt.SubscriptionID),
		)
		if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, "", outcome, s.clock.Now()); err != nil {
			return domain.Ack{}, err
		}
		s.metrics.IncWebhookEvent(provider, string(evt.Type), domain.AckDropped)
		return domain.Ack{Status: domain.AckDropped, EventID: evt.ID, Outcome: outcome}, nil
	}

	res, err := s.entitlements.ApplyEvent(ctx, userID, *evt)
	if errors.Is(err, entdomain.ErrOwnershipMismatch) {
		if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, userID, domain.OutcomeRejectedOwnership, s.clock.Now()); err != nil {
			return domain.Ack{}, err
		}
		s.metrics.IncWebhookEvent(provider, string(evt.Type), domain.AckRejectedOwnership)
		return domain.Ack{Status: domain.AckRejectedOwnership, EventID: evt.ID, Outcome: domain.OutcomeRejectedOwnership, UserID: userID}, nil
	}
	if err != nil {
		return domain.Ack{}, err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, userID, string(res.Outcome), s.clock.Now()); err != nil {
		return domain.Ack{}, err
	}
	s.metrics.IncWebhookEvent(provider, string(evt.Type), string(res.Outcome))
	return domain.Ack{Status: domain.AckOK, EventID: evt.ID, Outcome: string(res.Outcome), UserID: userID}, nil
}

// resolveUser returns "" with a drop outcome when the event names nobody we
// know.
func (s *Service) resolveUser(ctx context.Context, evt entdomain.ProviderEvent) (string, string, error) {
	hint := engine.ResolveIdentity(evt)
	switch hint.Kind {
	case engine.IdentityDirect:
		return hint.UserID, "", nil
	case engine.IdentityEmail:
		if s.identity == nil {
			return "", domain.OutcomeUnknownUser, nil
		}
		userID, err := s.identity.ResolveUserByEmail(ctx, hint.Email)
		if errors.Is(err, identity.ErrUserNotFound) {
			return "", domain.OutcomeUnknownUser, nil
		}
		if err != nil {
			return "", "", err
		}
		return userID, "", nil
	default:
		return "", domain.OutcomeNoIdentity, nil
	}
}
