package repository

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

func (s *SessionStore[R, PR]) cacheKey(key model.SessionKey) string {
	return config.CacheKey.SessionRecordKey(s.collection, key.UserID, key.TestID, string(key.TestMode), key.PartsKey)
}

func (s *SessionStore[R, PR]) cacheGet(ctx context.Context, key model.SessionKey) (PR, bool) {
	if s.rdb == nil {
		return nil, false
	}

	raw, err := s.rdb.Get(ctx, s.cacheKey(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("key", key.String()).Msg("Cache read failed")
		}
		return nil, false
	}

	rec := PR(new(R))
	if err := model.DecodeRecord([]byte(raw), rec); err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("Dropping undecodable cache entry")
		s.cacheDelete(ctx, key)
		return nil, false
	}
	return rec, true
}

func (s *SessionStore[R, PR]) cachePut(ctx context.Context, key model.SessionKey, rec PR) {
	if s.rdb == nil {
		return
	}

	payload, err := model.EncodeRecord(rec)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, s.cacheKey(key), payload, s.cacheTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("Cache write failed")
	}
}

func (s *SessionStore[R, PR]) cacheDelete(ctx context.Context, key model.SessionKey) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Del(ctx, s.cacheKey(key)).Err(); err != nil {
		s.log.Warn().Err(err).Str("key", key.String()).Msg("Cache delete failed")
	}
}

func (s *SessionStore[R, PR]) cacheClear(ctx context.Context) {
	if s.rdb == nil {
		return
	}

	iter := s.rdb.Scan(ctx, 0, config.CacheKey.SessionCollectionPattern(s.collection), 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		s.log.Warn().Err(err).Msg("Cache scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.log.Warn().Err(err).Int("keys", len(keys)).Msg("Cache clear failed")
	}
}
