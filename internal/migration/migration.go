// Package migration owns the schema of the entitlements, webhook_events and
// users tables. Postgres runs the embedded SQL through golang-migrate; other
// dialects, used in tests and single-node installs, fall back to AutoMigrate.
package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/gorm"

	entdomain "github.com/smallbiznis/entitlementd/internal/entitlement/domain"
	"github.com/smallbiznis/entitlementd/internal/identity"
	webhookdomain "github.com/smallbiznis/entitlementd/internal/webhook/domain"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

var ErrNoDatabase = errors.New("migration_database_required")

// Run migrates conn with the strategy of its dialect.
func Run(conn *gorm.DB, dbType string, log *zap.Logger) error {
	if conn == nil {
		return ErrNoDatabase
	}
	if log == nil {
		log = zap.NewNop()
	}

	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "", "postgres", "postgresql":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		version, err := Up(sqlDB)
		if err != nil {
			return err
		}
		log.Info("schema migrated", zap.String("strategy", "sql"), zap.Uint("version", version))
		return nil
	default:
		if err := conn.AutoMigrate(Models()...); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		log.Info("schema migrated", zap.String("strategy", "auto"), zap.String("dialect", dbType))
		return nil
	}
}

// Up applies pending embedded migrations and returns the resulting schema
// version. The migrator is left open since closing it closes db.
func Up(db *sql.DB) (uint, error) {
	if db == nil {
		return 0, ErrNoDatabase
	}
	src, err := embeddedSource()
	if err != nil {
		return 0, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	return version, nil
}

func embeddedSource() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}
	return src, nil
}

// Models lists every table the service owns.
func Models() []any {
	return []any{
		&entdomain.Record{},
		&webhookdomain.WebhookEvent{},
		&identity.User{},
	}
}
