// Package mysql provides a MySQL-backed state store.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gannet-search/gannet/internal/build"
	"github.com/gannet-search/gannet/pkg/storage"
	"github.com/gannet-search/gannet/pkg/storage/sqlcommon"
)

var tracer = otel.Tracer("gannet/pkg/storage/mysql")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "mysql."+name)
}

// Store is a MySQL-backed implementation of [storage.StateStore].
type Store struct {
	db               *sql.DB
	dbInfo           *sqlcommon.DBInfo
	dbStatsCollector prometheus.Collector
}

var _ storage.StateStore = (*Store)(nil)

// New creates a new [Store] backed by the MySQL database at uri. The uri
// is a go-sql-driver DSN.
func New(uri string, cfg *sqlcommon.Config) (*Store, error) {
	if _, err := mysql.ParseDSN(uri); err != nil {
		return nil, fmt.Errorf("failed to parse mysql connection dsn: %w", err)
	}

	db, err := sql.Open("mysql", uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mysql connection: %w", err)
	}

	sqlcommon.ApplyPoolLimits(db, cfg)

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 1 * time.Minute
	attempt := 1
	err = backoff.Retry(func() error {
		err = db.PingContext(context.Background())
		if err != nil {
			cfg.Logger.Info("waiting for mysql", zap.Int("attempt", attempt))
			attempt++
			return err
		}
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mysql connection: %w", err)
	}

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	stbl := sq.StatementBuilder.RunWith(db)

	return &Store{
		db:               db,
		dbInfo:           sqlcommon.NewDBInfo(db, stbl, sqlcommon.DialectMySQL),
		dbStatsCollector: collector,
	}, nil
}

// Load implements storage.StateStore.
func (s *Store) Load(ctx context.Context) (*storage.StateDocument, error) {
	ctx, span := startTrace(ctx, "Load")
	defer span.End()

	return sqlcommon.LoadState(ctx, s.dbInfo)
}

// Save implements storage.StateStore.
func (s *Store) Save(ctx context.Context, doc *storage.StateDocument) error {
	ctx, span := startTrace(ctx, "Save")
	defer span.End()

	return sqlcommon.SaveState(ctx, s.dbInfo, doc)
}

// Close implements storage.StateStore.
func (s *Store) Close() {
	if s.dbStatsCollector != nil {
		prometheus.Unregister(s.dbStatsCollector)
	}
	_ = s.db.Close()
}
