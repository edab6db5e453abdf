package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/entitlementd/internal/billingprovider"
	"github.com/smallbiznis/entitlementd/internal/clock"
	"github.com/smallbiznis/entitlementd/internal/config"
	"github.com/smallbiznis/entitlementd/internal/entitlement"
	"github.com/smallbiznis/entitlementd/internal/events"
	"github.com/smallbiznis/entitlementd/internal/identity"
	"github.com/smallbiznis/entitlementd/internal/lock"
	"github.com/smallbiznis/entitlementd/internal/migration"
	"github.com/smallbiznis/entitlementd/internal/observability"
	"github.com/smallbiznis/entitlementd/internal/ratelimit"
	"github.com/smallbiznis/entitlementd/internal/scheduler"
	"github.com/smallbiznis/entitlementd/internal/server"
	"github.com/smallbiznis/entitlementd/internal/webhook"
	"github.com/smallbiznis/entitlementd/pkg/db"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,
		events.Module,

		// Functional Domains
		billingprovider.Module,
		identity.Module,
		entitlement.Module,
		webhook.Module,
		ratelimit.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
