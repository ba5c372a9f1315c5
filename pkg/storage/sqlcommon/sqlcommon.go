// Package sqlcommon holds the configuration and the state-row operations
// shared by the SQL-backed state stores.
package sqlcommon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/gannet-search/gannet/pkg/logger"
	"github.com/gannet-search/gannet/pkg/storage"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"

	// stateRowID pins the cluster state to a single row.
	stateRowID = 1

	stateTable = "cluster_state"
)

// Config defines the configuration parameters for setting up and managing
// a sql connection.
type Config struct {
	Logger logger.Logger

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	ExportMetrics bool
}

// StoreOption defines a function type used for configuring a Config object.
type StoreOption func(*Config)

// WithLogger returns a StoreOption that sets the Logger in the Config.
func WithLogger(l logger.Logger) StoreOption {
	return func(cfg *Config) {
		cfg.Logger = l
	}
}

// WithMaxOpenConns returns a StoreOption that sets the maximum number of
// open connections in the Config.
func WithMaxOpenConns(c int) StoreOption {
	return func(cfg *Config) {
		cfg.MaxOpenConns = c
	}
}

// WithMaxIdleConns returns a StoreOption that sets the maximum number of
// idle connections in the Config.
func WithMaxIdleConns(c int) StoreOption {
	return func(cfg *Config) {
		cfg.MaxIdleConns = c
	}
}

// WithConnMaxIdleTime returns a StoreOption that sets the maximum idle
// time for a connection in the Config.
func WithConnMaxIdleTime(d time.Duration) StoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxIdleTime = d
	}
}

// WithConnMaxLifetime returns a StoreOption that sets the maximum
// lifetime for a connection in the Config.
func WithConnMaxLifetime(d time.Duration) StoreOption {
	return func(cfg *Config) {
		cfg.ConnMaxLifetime = d
	}
}

// WithMetricsExport returns a StoreOption that enables the sql.DBStats
// Prometheus collector for the store's connection pool.
func WithMetricsExport(enabled bool) StoreOption {
	return func(cfg *Config) {
		cfg.ExportMetrics = enabled
	}
}

// NewConfig returns a Config with the given options applied. The logger
// defaults to a noop logger.
func NewConfig(opts ...StoreOption) *Config {
	cfg := &Config{
		Logger: logger.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

// ApplyPoolLimits sets the connection pool limits from cfg on db.
func ApplyPoolLimits(db *sql.DB, cfg *Config) {
	if cfg.MaxOpenConns != 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime != 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime != 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
}

// DBInfo groups what the shared state-row operations need to run against
// a specific driver.
type DBInfo struct {
	DB      *sql.DB
	Stbl    sq.StatementBuilderType
	Dialect string
}

// NewDBInfo constructs a [DBInfo] object.
func NewDBInfo(db *sql.DB, stbl sq.StatementBuilderType, dialect string) *DBInfo {
	return &DBInfo{
		DB:      db,
		Stbl:    stbl,
		Dialect: dialect,
	}
}

// LoadState reads the single persisted state document.
func LoadState(ctx context.Context, d *DBInfo) (*storage.StateDocument, error) {
	var (
		version int64
		body    []byte
	)

	err := d.Stbl.
		Select("version", "body").
		From(stateTable).
		Where(sq.Eq{"id": stateRowID}).
		QueryRowContext(ctx).
		Scan(&version, &body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("load state: %w", err)
	}

	return &storage.StateDocument{Version: version, Body: body}, nil
}

// SaveState writes doc inside one transaction, enforcing that versions
// only move forward.
func SaveState(ctx context.Context, d *DBInfo, doc *storage.StateDocument) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save state: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stbl := d.Stbl.RunWith(tx)

	sel := stbl.
		Select("version").
		From(stateTable).
		Where(sq.Eq{"id": stateRowID})
	if d.Dialect != DialectSQLite {
		sel = sel.Suffix("FOR UPDATE")
	}

	var current int64
	err = sel.QueryRowContext(ctx).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = stbl.
			Insert(stateTable).
			Columns("id", "version", "body", "updated_at").
			Values(stateRowID, doc.Version, doc.Body, time.Now().UTC()).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("insert state: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read state version: %w", err)
	default:
		if doc.Version <= current {
			return storage.ErrStaleVersion
		}

		_, err = stbl.
			Update(stateTable).
			Set("version", doc.Version).
			Set("body", doc.Body).
			Set("updated_at", time.Now().UTC()).
			Where(sq.Eq{"id": stateRowID}).
			ExecContext(ctx)
		if err != nil {
			return fmt.Errorf("update state: %w", err)
		}
	}

	return tx.Commit()
}
