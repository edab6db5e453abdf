package entitlement

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/entitlementd/internal/billingprovider"
	"github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/entitlement/repository"
	"github.com/smallbiznis/entitlementd/internal/entitlement/service"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(gw *billingprovider.Gateway) domain.SubscriptionSource { return gw }),
	fx.Provide(service.NewService),
)
