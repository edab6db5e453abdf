package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/entitlementd/internal/config"
)

// Module migrates the schema before any other OnStart hook runs when
// MIGRATE_ON_START is set.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migration")
		if !cfg.MigrateOnStart {
			log.Info("skipping migrations on start")
			return nil
		}
		return Run(conn, cfg.DBType, log)
	}),
)
