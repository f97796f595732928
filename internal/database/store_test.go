package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDialect(t *testing.T) {
	for raw, want := range map[string]Dialect{
		"":         DialectSQLite,
		"sqlite3":  DialectSQLite,
		"Postgres": DialectPostgres,
		"pgx":      DialectPostgres,
	} {
		got, err := ParseDialect(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseDialect("mongodb")
	assert.Error(t, err)
}

func TestRedactDSN(t *testing.T) {
	for dsn, want := range map[string]string{
		"postgres://exstem:s3cret@db:5432/sessions?sslmode=disable": "postgres://exstem:xxxxx@db:5432/sessions?sslmode=disable",
		"postgres://db:5432/sessions?password=s3cret":               "postgres://db:5432/sessions?password=xxxxx",
		"host=db user=exstem password=s3cret dbname=sessions":       "host=db user=exstem password=xxxxx dbname=sessions",
		"./data/sessions.db": "./data/sessions.db",
	} {
		assert.Equal(t, want, RedactDSN(dsn), dsn)
		assert.NotContains(t, RedactDSN(dsn), "s3cret")
	}
}

func TestOpenCreatesBothCollections(t *testing.T) {
	ctx := context.Background()
	store := NewStore(DialectSQLite, filepath.Join(t.TempDir(), "nested", "sessions.db"), zerolog.Nop())
	defer store.Close()

	err := store.Run(ctx, func(ctx context.Context, h *Handle) error {
		for _, table := range []string{CollectionTestSessions, CollectionWritingSessions} {
			var name string
			if err := h.Scan(ctx, h.SQL().
				Select("name").
				From("sqlite_master").
				Where("type = 'table' AND name = ?", table), &name); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "sessions.db")

	require.NoError(t, Migrate(DialectSQLite, dsn))
	require.NoError(t, Migrate(DialectSQLite, dsn))

	m, err := NewMigrator(DialectSQLite, dsn)
	require.NoError(t, err)
	defer m.Close()

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(SchemaVersion), version)
}

func TestRunClosesHandleOnError(t *testing.T) {
	ctx := context.Background()
	store := NewStore(DialectSQLite, filepath.Join(t.TempDir(), "sessions.db"), zerolog.Nop())
	defer store.Close()

	boom := errors.New("boom")
	var leaked *Handle
	err := store.Run(ctx, func(ctx context.Context, h *Handle) error {
		leaked = h
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// The pool has a single connection; a leaked handle would block this forever.
	require.NoError(t, store.Run(ctx, func(ctx context.Context, h *Handle) error { return nil }))
	assert.Error(t, leaked.Close(), "handle should already be closed")
}

func TestRunClosesHandleOnPanic(t *testing.T) {
	ctx := context.Background()
	store := NewStore(DialectSQLite, filepath.Join(t.TempDir(), "sessions.db"), zerolog.Nop())
	defer store.Close()

	assert.Panics(t, func() {
		_ = store.Run(ctx, func(ctx context.Context, h *Handle) error { panic("operation failed") })
	})
	require.NoError(t, store.Run(ctx, func(ctx context.Context, h *Handle) error { return nil }))
}

func TestOpenFailureIsRecoverable(t *testing.T) {
	store := NewStore(DialectSQLite, t.TempDir(), zerolog.Nop())

	_, err := store.Open(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	// Nothing was cached, so a second attempt tries again rather than returning a dead pool.
	_, err = store.Open(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestMemoryDSNIsRejected(t *testing.T) {
	store := NewStore(DialectSQLite, ":memory:", zerolog.Nop())
	_, err := store.Open(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestCacheOptionsKeepExplicitTimeouts(t *testing.T) {
	opt, err := redis.ParseURL("redis://localhost:6379/2?read_timeout=2s")
	require.NoError(t, err)

	cacheOptions(opt)

	assert.Equal(t, 2*time.Second, opt.ReadTimeout)
	assert.Equal(t, 1, opt.MaxRetries)
}
