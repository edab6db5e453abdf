package billingprovider

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/entitlementd/internal/billingprovider/adapters"
	"github.com/smallbiznis/entitlementd/internal/billingprovider/adapters/razorpay"
	"github.com/smallbiznis/entitlementd/internal/billingprovider/adapters/stripe"
	"github.com/smallbiznis/entitlementd/internal/billingprovider/domain"
	"github.com/smallbiznis/entitlementd/internal/config"
)

var Module = fx.Module("billingprovider",
	fx.Provide(NewRegistry),
	fx.Provide(NewGateway),
)

func NewRegistry(cfg config.Config) *adapters.Registry {
	return adapters.NewRegistry(cfg.Billing.Provider, ProviderConfigs(cfg.Billing),
		stripe.NewFactory(),
		razorpay.NewFactory(),
	)
}

// ProviderConfigs lists every provider with credentials present.
func ProviderConfigs(cfg config.BillingConfig) []domain.ProviderConfig {
	var out []domain.ProviderConfig
	if cfg.Stripe.SecretKey != "" || cfg.Stripe.WebhookSecret != "" {
		out = append(out, domain.ProviderConfig{
			Provider:      "stripe",
			APIKey:        cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Timeout:       cfg.ProviderTimeout,
		})
	}
	if cfg.Razorpay.KeyID != "" || cfg.Razorpay.WebhookSecret != "" {
		out = append(out, domain.ProviderConfig{
			Provider:      "razorpay",
			APIKey:        cfg.Razorpay.KeyID,
			APISecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			BaseURL:       cfg.Razorpay.BaseURL,
			Timeout:       cfg.ProviderTimeout,
		})
	}
	return out
}
