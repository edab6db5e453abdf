package webhook

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/entitlementd/internal/webhook/repository"
	"github.com/smallbiznis/entitlementd/internal/webhook/service"
)

var Module = fx.Module("webhook",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
