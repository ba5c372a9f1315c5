// Package migrate runs state store migrations through a registry of
// per-engine providers.
package migrate

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gannet-search/gannet/pkg/storage"
	"github.com/gannet-search/gannet/pkg/storage/mysql"
	"github.com/gannet-search/gannet/pkg/storage/postgres"
	"github.com/gannet-search/gannet/pkg/storage/sqlite"
)

// MigrationConfig contains the configuration needed for running migrations.
type MigrationConfig = storage.MigrationConfig

var (
	defaultRegistry *storage.MigratorRegistry
	registryOnce    sync.Once
)

func initDefaultRegistry() {
	registryOnce.Do(func() {
		defaultRegistry = storage.NewMigratorRegistry()

		defaultRegistry.RegisterProvider("sqlite", sqlite.NewMigrationProvider())
		defaultRegistry.RegisterProvider("postgres", postgres.NewMigrationProvider())
		defaultRegistry.RegisterProvider("mysql", mysql.NewMigrationProvider())
	})
}

// GetDefaultRegistry returns the registry holding the built-in providers.
func GetDefaultRegistry() *storage.MigratorRegistry {
	initDefaultRegistry()
	return defaultRegistry
}

// RegisterMigrationProvider registers a custom migration provider with
// the default registry, replacing any built-in provider for the engine.
func RegisterMigrationProvider(engine string, provider storage.MigrationProvider) {
	initDefaultRegistry()
	defaultRegistry.RegisterProvider(engine, provider)
}

// RunMigrationsWithRegistry runs migrations for cfg using the providers
// registered in registry.
func RunMigrationsWithRegistry(registry *storage.MigratorRegistry, cfg storage.MigrationConfig) error {
	if cfg.Engine == "memory" {
		log.Println("no migrations to run for `memory` state store")
		return nil
	}

	provider, exists := registry.GetProvider(cfg.Engine)
	if !exists {
		return fmt.Errorf("no migration provider registered for engine: %s", cfg.Engine)
	}

	return provider.RunMigrations(context.Background(), cfg)
}

// RunMigrations runs migrations for cfg using the default registry.
func RunMigrations(cfg storage.MigrationConfig) error {
	return RunMigrationsWithRegistry(GetDefaultRegistry(), cfg)
}
