package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	catalogdomain "github.com/smallbiznis/guildgate/internal/catalog/domain"
	subscriptiondomain "github.com/smallbiznis/guildgate/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/guildgate/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/guildgate/internal/usage/domain"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
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
	// migrator.Close would close the shared *sql.DB

	return nil
}

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&catalogdomain.Tier{},
		&catalogdomain.Feature{},
		&catalogdomain.TierFeature{},
		&catalogdomain.Command{},
		&tenantdomain.Settings{},
		&tenantdomain.FeatureOverride{},
		&tenantdomain.CommandPermission{},
		&usagedomain.LedgerEntry{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.Payment{},
	}
}

// AutoMigrate creates the schema from the models for dialects the SQL migrations do not target.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(Models()...)
}
