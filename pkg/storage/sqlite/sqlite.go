// Package sqlite provides a SQLite-backed state store for standalone
// deployments.
package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/gannet-search/gannet/internal/build"
	"github.com/gannet-search/gannet/pkg/storage"
	"github.com/gannet-search/gannet/pkg/storage/sqlcommon"
)

var tracer = otel.Tracer("gannet/pkg/storage/sqlite")

func startTrace(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sqlite."+name)
}

// Store is a SQLite-backed implementation of [storage.StateStore].
type Store struct {
	db               *sql.DB
	dbInfo           *sqlcommon.DBInfo
	dbStatsCollector prometheus.Collector
}

var _ storage.StateStore = (*Store)(nil)

// PrepareDSN prepares a raw DSN for use with SQLite, specifying defaults
// for journal mode, busy timeout, and transaction locking.
func PrepareDSN(uri string) (string, error) {
	query := url.Values{}

	if i := strings.Index(uri, "?"); i != -1 {
		parsed, err := url.ParseQuery(uri[i+1:])
		if err != nil {
			return uri, fmt.Errorf("error parsing dsn: %w", err)
		}

		query = parsed
		uri = uri[:i]
	}

	foundJournalMode := false
	foundBusyTimeout := false
	for _, val := range query["_pragma"] {
		if strings.HasPrefix(val, "journal_mode") {
			foundJournalMode = true
		} else if strings.HasPrefix(val, "busy_timeout") {
			foundBusyTimeout = true
		}
	}

	if !foundJournalMode {
		query.Add("_pragma", "journal_mode(WAL)")
	}
	if !foundBusyTimeout {
		query.Add("_pragma", "busy_timeout(100)")
	}

	// Take the write lock at transaction start rather than on first write.
	if !query.Has("_txlock") {
		query.Set("_txlock", "immediate")
	}

	return uri + "?" + query.Encode(), nil
}

// New creates a new [Store] backed by the SQLite database at uri.
func New(uri string, cfg *sqlcommon.Config) (*Store, error) {
	uri, err := PrepareDSN(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, fmt.Errorf("initialize sqlite connection: %w", err)
	}

	sqlcommon.ApplyPoolLimits(db, cfg)

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
		dbInfo:           sqlcommon.NewDBInfo(db, stbl, sqlcommon.DialectSQLite),
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
