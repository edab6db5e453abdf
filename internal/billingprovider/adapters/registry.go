package adapters

import (
	"strings"
	"sync"

	"github.com/smallbiznis/entitlementd/internal/billingprovider/domain"
)

// Registry resolves provider names to configured adapters and clients.
// Clients are built once per provider and reused.
type Registry struct {
	factories map[string]domain.Factory
	configs   map[string]domain.ProviderConfig
	fallback  string

	mu      sync.Mutex
	clients map[string]domain.Client
}

func NewRegistry(defaultProvider string, configs []domain.ProviderConfig, factories ...domain.Factory) *Registry {
	registry := &Registry{
		factories: map[string]domain.Factory{},
		configs:   map[string]domain.ProviderConfig{},
		fallback:  normalize(defaultProvider),
		clients:   map[string]domain.Client{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		provider := normalize(factory.Provider())
		if provider == "" {
			continue
		}
		registry.factories[provider] = factory
	}
	for _, cfg := range configs {
		provider := normalize(cfg.Provider)
		if provider == "" {
			continue
		}
		cfg.Provider = provider
		registry.configs[provider] = cfg
	}
	return registry
}

// DefaultProvider is used for records that predate provider tracking.
func (r *Registry) DefaultProvider() string {
	if r == nil {
		return ""
	}
	return r.fallback
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

func (r *Registry) NewAdapter(provider string) (domain.WebhookAdapter, error) {
	factory, cfg, err := r.lookup(provider)
	if err != nil {
		return nil, err
	}
	return factory.NewAdapter(cfg)
}

func (r *Registry) Client(provider string) (domain.Client, error) {
	factory, cfg, err := r.lookup(provider)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[cfg.Provider]; ok {
		return client, nil
	}
	client, err := factory.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	r.clients[cfg.Provider] = client
	return client, nil
}

func (r *Registry) lookup(provider string) (domain.Factory, domain.ProviderConfig, error) {
	if r == nil {
		return nil, domain.ProviderConfig{}, domain.ErrProviderNotFound
	}
	provider = normalize(provider)
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ProviderConfig{}, domain.ErrProviderNotFound
	}
	cfg, ok := r.configs[provider]
	if !ok {
		return nil, domain.ProviderConfig{}, domain.ErrInvalidConfig
	}
	return factory, cfg, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
