// Package db opens the gorm connection shared by every repository.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/entitlementd/internal/config"
	"github.com/smallbiznis/entitlementd/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(ConfigFrom),
	fx.Provide(New),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    Config
	AppConfig config.Config
	Log       *zap.Logger
}

// New opens the database, applies pool limits and installs the tracing and
// connection-stats plugins.
func New(p Params) (*gorm.DB, error) {
	conn, err := Open(p.Config, logger.NewGormLogger(logger.GormLoggerConfigForLevel(p.AppConfig.LogLevel)))
	if err != nil {
		return nil, err
	}

	if err := conn.Use(otelgorm.NewPlugin(otelgorm.WithDBName(p.Config.Name))); err != nil {
		return nil, fmt.Errorf("install tracing plugin: %w", err)
	}
	if !strings.EqualFold(p.Config.Type, "sqlite") {
		if err := conn.Use(gormprometheus.New(gormprometheus.Config{
			DBName:          p.Config.Name,
			RefreshInterval: 15,
		})); err != nil {
			return nil, fmt.Errorf("install stats plugin: %w", err)
		}
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.PingContext(ctx); err != nil {
				return fmt.Errorf("ping database: %w", err)
			}
			p.Log.Info("database connected", zap.String("type", p.Config.Type), zap.String("name", p.Config.Name))
			return nil
		},
		OnStop: func(context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return conn, nil
}

// Open connects using cfg without any fx wiring. The CLI and tests use it.
func Open(cfg Config, log *logger.GormLogger) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	gormCfg := &gorm.Config{}
	if log != nil {
		gormCfg.Logger = log
	}
	conn, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxIdleConn > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	}
	if cfg.MaxOpenConn > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	return conn, nil
}
