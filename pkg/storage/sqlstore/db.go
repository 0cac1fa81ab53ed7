package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/sirupsen/logrus"
)

// Open opens and pings the configured database. A single pool is shared by
// the whole process.
func Open(ctx context.Context, cfg storage.Config) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch cfg.Driver {
	case storage.DriverSQLite:
		db, err = sql.Open(storage.DriverSQLite, sqliteDSN(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		if isMemoryDSN(cfg.DSN) {
			// Every connection to :memory: is a separate database
			db.SetMaxOpenConns(1)
			db.SetConnMaxLifetime(0)
		} else {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(cfg.MaxIdleConns)
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	case storage.DriverPostgres:
		db, err = sql.Open(storage.DriverPostgres, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database: %w", err)
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, ":memory:?") || strings.Contains(dsn, "mode=memory")
}

// sqliteDSN adds WAL, busy timeout, and foreign key enforcement to the DSN.
func sqliteDSN(cfg storage.Config) string {
	params := []string{"_foreign_keys=1"}
	if cfg.BusyTimeout > 0 {
		params = append(params, fmt.Sprintf("_busy_timeout=%d", cfg.BusyTimeout.Milliseconds()))
	}
	if !isMemoryDSN(cfg.DSN) {
		params = append(params, "_journal_mode=WAL")
	}

	sep := "?"
	if strings.Contains(cfg.DSN, "?") {
		sep = "&"
	}
	return cfg.DSN + sep + strings.Join(params, "&")
}

// Store implements the credential, session, revocation, and permission
// stores on one *sql.DB. Queries use $N placeholders and ON CONFLICT
// upserts, which both sqlite3 and postgres accept.
type Store struct {
	db  *sql.DB
	now func() time.Time
	log logrus.FieldLogger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for created_at/updated_at columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) { s.log = log }
}

// New wraps an open database.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:  db,
		now: time.Now,
		log: logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
