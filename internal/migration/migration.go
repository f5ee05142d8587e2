package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	apikeydomain "github.com/smallbiznis/accessflow/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/accessflow/internal/audit/domain"
	pipelinedomain "github.com/smallbiznis/accessflow/internal/pipeline/domain"
	subscriptiondomain "github.com/smallbiznis/accessflow/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/accessflow/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/accessflow/internal/usage/domain"
	"gorm.io/gorm"
)

// Models lists every persisted record, in dependency order.
var Models = []any{
	&tenantdomain.Tenant{},
	&apikeydomain.APIKey{},
	&usagedomain.UsageCounter{},
	&pipelinedomain.BundleRecord{},
	&subscriptiondomain.WebhookEvent{},
	&auditdomain.AuditLog{},
}

// RunMigrations applies the embedded postgres schema.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the models for dialects without
// versioned migrations (sqlite, mysql).
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
