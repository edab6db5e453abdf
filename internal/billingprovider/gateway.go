package billingprovider

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/smallbiznis/entitlementd/internal/billingprovider/adapters"
	"github.com/smallbiznis/entitlementd/internal/billingprovider/breaker"
	"github.com/smallbiznis/entitlementd/internal/config"
	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/observability/metrics"
)

// Gateway routes subscription lookups to the provider that owns the record,
// each behind its own circuit breaker.
type Gateway struct {
	registry *adapters.Registry
	policy   *config.PolicyHolder
	metrics  *metrics.EntitlementMetrics
	log      *zap.Logger

	mu       sync.Mutex
	breakers map[string]*breaker.Client
}

func NewGateway(registry *adapters.Registry, policy *config.PolicyHolder, m *metrics.EntitlementMetrics, log *zap.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		policy:   policy,
		metrics:  m,
		log:      log.Named("billing.gateway"),
		breakers: map[string]*breaker.Client{},
	}
}

func (g *Gateway) DefaultProvider() string {
	return g.registry.DefaultProvider()
}

// GetSubscription maps registry errors onto the entitlement domain so callers
// only deal with one error vocabulary.
func (g *Gateway) GetSubscription(ctx context.Context, provider, subscriptionID string) (*entdomain.Snapshot, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = g.registry.DefaultProvider()
	}

	client, err := g.client(provider)
	if err != nil {
		return nil, err
	}
	snap, err := client.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if snap.Provider == "" {
		snap.Provider = provider
	}
	if snap.SubscriptionID == "" {
		snap.SubscriptionID = subscriptionID
	}
	return snap, nil
}

func (g *Gateway) client(provider string) (*breaker.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.breakers[provider]; ok {
		return c, nil
	}
	inner, err := g.registry.Client(provider)
	if err != nil {
		return nil, err
	}
	c := breaker.New(provider, inner, g.settings(), g.metrics, g.log)
	g.breakers[provider] = c
	return c, nil
}

func (g *Gateway) settings() breaker.Settings {
	settings := breaker.DefaultSettings()
	if g.policy == nil {
		return settings
	}
	p := g.policy.Get()
	settings.FailureThreshold = p.BreakerFailureThreshold
	settings.OpenTimeout = p.BreakerOpenTimeout
	return settings
}
