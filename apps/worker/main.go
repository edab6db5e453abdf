package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/entitlementd/internal/billingprovider"
	"github.com/smallbiznis/entitlementd/internal/clock"
	"github.com/smallbiznis/entitlementd/internal/config"
	"github.com/smallbiznis/entitlementd/internal/entitlement"
	"github.com/smallbiznis/entitlementd/internal/events"
	"github.com/smallbiznis/entitlementd/internal/lock"
	"github.com/smallbiznis/entitlementd/internal/observability"
	"github.com/smallbiznis/entitlementd/internal/scheduler"
	"github.com/smallbiznis/entitlementd/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,
		events.Module,

		// Domain services required by the sweeps
		billingprovider.Module,
		entitlement.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
