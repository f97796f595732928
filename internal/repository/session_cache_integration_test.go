//go:build integration

package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// Requires REDIS_URL, e.g. redis://localhost:6379/15. The database is flushed.
func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	require.NoError(t, rdb.FlushDB(context.Background()).Err())
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCacheServesReadsAfterSave(t *testing.T) {
	ctx := context.Background()
	rdb := newRedis(t)
	repo := NewTestSessionStore(newSQLiteStore(t), zerolog.Nop()).WithCache(rdb, time.Minute)

	rec := sampleRecord([]string{"5", "3"}, map[int]string{1: "B"})
	require.NoError(t, repo.Save(ctx, testUserID, rec))

	key := config.CacheKey.SessionRecordKey(repo.Collection(), testUserID, testTestID, string(model.TestModeCustom), "3-5")
	assert.Equal(t, int64(1), rdb.Exists(ctx, key).Val())

	got, err := repo.Get(ctx, testUserID, testTestID, model.TestModeCustom, []string{"3", "5"})
	require.NoError(t, err)
	assert.Equal(t, rec.Answers, got.Answers)
	assert.Equal(t, rec.Version, got.Version)
}

func TestCacheFollowsDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	rdb := newRedis(t)
	repo := NewTestSessionStore(newSQLiteStore(t), zerolog.Nop()).WithCache(rdb, time.Minute)

	require.NoError(t, repo.Save(ctx, testUserID, sampleRecord([]string{"1"}, map[int]string{1: "A"})))
	require.NoError(t, repo.Save(ctx, testUserID, sampleRecord([]string{"2"}, map[int]string{2: "C"})))

	require.NoError(t, repo.Delete(ctx, testUserID, testTestID, model.TestModeCustom, []string{"1"}))
	_, err := repo.Get(ctx, testUserID, testTestID, model.TestModeCustom, []string{"1"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, repo.ClearAll(ctx))
	keys, err := rdb.Keys(ctx, config.CacheKey.SessionCollectionPattern(repo.Collection())).Result()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestUndecodableCacheEntryFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	rdb := newRedis(t)
	repo := NewTestSessionStore(newSQLiteStore(t), zerolog.Nop()).WithCache(rdb, time.Minute)

	rec := sampleRecord(nil, map[int]string{4: "D"})
	require.NoError(t, repo.Save(ctx, testUserID, rec))

	key := config.CacheKey.SessionRecordKey(repo.Collection(), testUserID, testTestID, string(model.TestModeCustom), model.FullPartsKey)
	require.NoError(t, rdb.Set(ctx, key, "{not json", time.Minute).Err())

	got, err := repo.Get(ctx, testUserID, testTestID, model.TestModeCustom, nil)
	require.NoError(t, err)
	assert.Equal(t, "D", got.Answers[4])
}
