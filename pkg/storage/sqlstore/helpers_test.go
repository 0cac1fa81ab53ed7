package sqlstore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/storage"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 123e6, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newSQLiteStore returns a migrated in-memory store.
func newSQLiteStore(t *testing.T) (*Store, *testClock) {
	t.Helper()

	cfg := storage.DefaultConfig()
	cfg.DSN = ":memory:"

	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, _ := test.NewNullLogger()
	require.NoError(t, Migrate(context.Background(), db, logger))

	clock := newTestClock()
	return New(db, WithClock(clock.Now), WithLogger(logger)), clock
}

// newPostgresStore connects to TEST_POSTGRES_PRIMARY, or skips the test.
// Existing gatehouse tables in that database are dropped.
func newPostgresStore(t *testing.T) (*Store, *testClock) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_PRIMARY not set")
	}

	cfg := storage.DefaultConfig()
	cfg.Driver = storage.DriverPostgres
	cfg.DSN = dsn

	ctx := context.Background()
	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(ctx,
		"DROP TABLE IF EXISTS audit_events, permission_grants, revoked_tokens, sessions, accounts, schema_migrations")
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	require.NoError(t, Migrate(ctx, db, logger))

	clock := newTestClock()
	return New(db, WithClock(clock.Now), WithLogger(logger)), clock
}
