// Package postgres provides a PostgreSQL-backed state store for
// deployments with an external database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib" // "pgx" database/sql driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gannet-search/gannet/internal/build"
	"github.com/gannet-search/gannet/pkg/storage"
	"github.com/gannet-search/gannet/pkg/storage/sqlcommon"
)

var tracer = otel.Tracer("gannet/pkg/storage/postgres")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "postgres."+name)
}

// Store is a PostgreSQL-backed implementation of [storage.StateStore].
type Store struct {
	db               *sql.DB
	dbInfo           *sqlcommon.DBInfo
	dbStatsCollector prometheus.Collector
}

var _ storage.StateStore = (*Store)(nil)

// New creates a new [Store] backed by the PostgreSQL database at uri.
func New(uri string, cfg *sqlcommon.Config) (*Store, error) {
	db, err := sql.Open("pgx", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres connection: %w", err)
	}

	sqlcommon.ApplyPoolLimits(db, cfg)

	var collector prometheus.Collector
	if cfg.ExportMetrics {
		collector = collectors.NewDBStatsCollector(db, build.ProjectName)
		if err := prometheus.Register(collector); err != nil {
			return nil, fmt.Errorf("initialize metrics: %w", err)
		}
	}

	stbl := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(db)

	return &Store{
		db:               db,
		dbInfo:           sqlcommon.NewDBInfo(db, stbl, sqlcommon.DialectPostgres),
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
