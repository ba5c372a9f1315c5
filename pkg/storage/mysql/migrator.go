package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/cenkalti/backoff/v4"
	"github.com/pressly/goose/v3"

	"github.com/gannet-search/gannet/assets"
	"github.com/gannet-search/gannet/pkg/storage"
)

// MigrationProvider implements storage.MigrationProvider for MySQL.
type MigrationProvider struct{}

// NewMigrationProvider creates a new MySQL migration provider.
func NewMigrationProvider() *MigrationProvider {
	return &MigrationProvider{}
}

// GetSupportedEngine returns the engine this provider supports.
func (p *MigrationProvider) GetSupportedEngine() string {
	return "mysql"
}

// RunMigrations executes MySQL state store migrations.
func (p *MigrationProvider) RunMigrations(ctx context.Context, config storage.MigrationConfig) error {
	goose.SetLogger(goose.NopLogger())
	goose.SetVerbose(config.Verbose)

	if err := goose.SetDialect("mysql"); err != nil {
		return fmt.Errorf("failed to set mysql dialect: %w", err)
	}

	db, err := goose.OpenDBWithDriver("mysql", config.URI)
	if err != nil {
		return fmt.Errorf("failed to open mysql connection: %w", err)
	}
	defer db.Close()

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = config.Timeout
	err = backoff.Retry(func() error {
		return db.PingContext(ctx)
	}, policy)
	if err != nil {
		return fmt.Errorf("failed to initialize mysql connection: %w", err)
	}

	goose.SetBaseFS(assets.EmbedMigrations)

	return executeMigrations(db, config)
}

// GetCurrentVersion returns the current migration version.
func (p *MigrationProvider) GetCurrentVersion(ctx context.Context, config storage.MigrationConfig) (int64, error) {
	db, err := goose.OpenDBWithDriver("mysql", config.URI)
	if err != nil {
		return 0, fmt.Errorf("failed to open mysql connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(assets.EmbedMigrations)
	return goose.GetDBVersion(db)
}

func executeMigrations(db *sql.DB, config storage.MigrationConfig) error {
	migrationsPath := assets.MySQLMigrationDir

	currentVersion, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get mysql db version: %w", err)
	}

	if config.TargetVersion == 0 {
		if err := goose.Up(db, migrationsPath); err != nil {
			return fmt.Errorf("failed to run mysql migrations: %w", err)
		}
		return nil
	}

	targetVersion := int64(config.TargetVersion)

	switch {
	case targetVersion < currentVersion:
		if err := goose.DownTo(db, migrationsPath, targetVersion); err != nil {
			return fmt.Errorf("failed to run mysql migrations down to %v: %w", targetVersion, err)
		}
	case targetVersion > currentVersion:
		if err := goose.UpTo(db, migrationsPath, targetVersion); err != nil {
			return fmt.Errorf("failed to run mysql migrations up to %v: %w", targetVersion, err)
		}
	default:
		log.Println("mysql state store already at target version, nothing to do")
	}

	return nil
}
