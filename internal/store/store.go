// Package store persists evidence records, the sweep cursor, source
// freshness, company news and the risk columns of the watchlist table.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/vigia/internal/model"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrUnknownDriver is returned by Open for drivers other than postgres and sqlite
var ErrUnknownDriver = errors.New("unknown store driver")

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store is the evidence database. Queries are written with ? bindvars and
// rebound for the driver.
type Store struct {
	db         *sqlx.DB
	logger     *slog.Logger
	now        func() time.Time
	minReplace int
}

// Option configures a Store
type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the clock used for indexed_at and freshness stamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMinReplaceRecords keeps a source's prior generation when a replace
// would land fewer than n records. 0 disables the guard.
func WithMinReplaceRecords(n int) Option {
	return func(s *Store) { s.minReplace = n }
}

// New wraps an open database
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to the configured database and runs migrations
func Open(ctx context.Context, cfg model.StoreConfig, opts ...Option) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case DriverPostgres, DriverSQLite:
	case "postgresql", "pq":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer; every query below loads its rows before the next one runs
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	opts = append([]Option{WithMinReplaceRecords(cfg.MinReplaceRecords)}, opts...)
	s := New(db, opts...)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the pool, used by the advisory lock
func (s *Store) DB() *sqlx.DB { return s.db }

// Driver returns the database driver name
func (s *Store) Driver() string { return s.db.DriverName() }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Migrate creates the tables and indexes when missing
func (s *Store) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.Driver() == DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS evidence_records (
		id BIGSERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		source_url TEXT NOT NULL,
		secondary_url TEXT,
		taxpayer_id TEXT,
		entity_name TEXT,
		article TEXT NOT NULL,
		status TEXT,
		category TEXT,
		reference_number TEXT,
		authority TEXT NOT NULL DEFAULT '',
		reason_text TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ,
		indexed_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		raw_snippet TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_evidence_source_taxpayer ON evidence_records (source, taxpayer_id, article)`,
	`CREATE INDEX IF NOT EXISTS idx_evidence_taxpayer ON evidence_records (taxpayer_id, article)`,
	`CREATE TABLE IF NOT EXISTS sweep_cursor (
		id INTEGER PRIMARY KEY,
		last_completed_at TIMESTAMPTZ,
		total_files INTEGER NOT NULL DEFAULT 0,
		total_rows INTEGER NOT NULL DEFAULT 0,
		last_batch INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS source_freshness (
		source TEXT PRIMARY KEY,
		last_updated TIMESTAMPTZ NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS company_news (
		id BIGSERIAL PRIMARY KEY,
		dedup_key TEXT NOT NULL UNIQUE,
		taxpayer_id TEXT,
		entity_name TEXT NOT NULL,
		watchlist_id BIGINT,
		source TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ,
		indexed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_company_news_taxpayer ON company_news (taxpayer_id)`,
	`CREATE TABLE IF NOT EXISTS watchlist_companies (
		id BIGSERIAL PRIMARY KEY,
		watchlist_id BIGINT,
		rfc TEXT,
		razon_social TEXT
	)`,
	`ALTER TABLE watchlist_companies ADD COLUMN IF NOT EXISTS risk_level TEXT`,
	`ALTER TABLE watchlist_companies ADD COLUMN IF NOT EXISTS risk_score INTEGER`,
	`ALTER TABLE watchlist_companies ADD COLUMN IF NOT EXISTS art_69b_status TEXT`,
	`ALTER TABLE watchlist_companies ADD COLUMN IF NOT EXISTS art_69_categories TEXT`,
	`ALTER TABLE watchlist_companies ADD COLUMN IF NOT EXISTS art_69_bis_found BOOLEAN NOT NULL DEFAULT FALSE`,
	`ALTER TABLE watchlist_companies ADD COLUMN IF NOT EXISTS art_49_bis_found BOOLEAN NOT NULL DEFAULT FALSE`,
	`ALTER TABLE watchlist_companies ADD COLUMN IF NOT EXISTS last_screened_at TIMESTAMPTZ`,
	`CREATE INDEX IF NOT EXISTS idx_watchlist_companies_rfc ON watchlist_companies (rfc)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS evidence_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		source_url TEXT NOT NULL,
		secondary_url TEXT,
		taxpayer_id TEXT,
		entity_name TEXT,
		article TEXT NOT NULL,
		status TEXT,
		category TEXT,
		reference_number TEXT,
		authority TEXT NOT NULL DEFAULT '',
		reason_text TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMP,
		indexed_at TIMESTAMP NOT NULL,
		last_seen_at TIMESTAMP NOT NULL,
		raw_snippet TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_evidence_source_taxpayer ON evidence_records (source, taxpayer_id, article)`,
	`CREATE INDEX IF NOT EXISTS idx_evidence_taxpayer ON evidence_records (taxpayer_id, article)`,
	`CREATE TABLE IF NOT EXISTS sweep_cursor (
		id INTEGER PRIMARY KEY,
		last_completed_at TIMESTAMP,
		total_files INTEGER NOT NULL DEFAULT 0,
		total_rows INTEGER NOT NULL DEFAULT 0,
		last_batch INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS source_freshness (
		source TEXT PRIMARY KEY,
		last_updated TIMESTAMP NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS company_news (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dedup_key TEXT NOT NULL UNIQUE,
		taxpayer_id TEXT,
		entity_name TEXT NOT NULL,
		watchlist_id INTEGER,
		source TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMP,
		indexed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_company_news_taxpayer ON company_news (taxpayer_id)`,
	`CREATE TABLE IF NOT EXISTS watchlist_companies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		watchlist_id INTEGER,
		rfc TEXT,
		razon_social TEXT,
		risk_level TEXT,
		risk_score INTEGER,
		art_69b_status TEXT,
		art_69_categories TEXT,
		art_69_bis_found BOOLEAN NOT NULL DEFAULT 0,
		art_49_bis_found BOOLEAN NOT NULL DEFAULT 0,
		last_screened_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_watchlist_companies_rfc ON watchlist_companies (rfc)`,
}
