package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
)

// Cache calls sit on the autosave path, so they get tight deadlines and a
// single retry. A slow cache is treated like a missing one.
const (
	cacheDialTimeout = 2 * time.Second
	cacheIOTimeout   = 500 * time.Millisecond
	cachePingTimeout = 3 * time.Second
)

// NewRedisClient connects the optional record cache described by cfg.RedisURL.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	cacheOptions(opt)

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, cachePingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Dur("ttl", cfg.CacheTTL).
		Msg("Redis record cache connected")

	return rdb, nil
}

// cacheOptions applies cache deadlines unless the URL already set them.
func cacheOptions(opt *redis.Options) {
	if opt.DialTimeout == 0 {
		opt.DialTimeout = cacheDialTimeout
	}
	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = cacheIOTimeout
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = cacheIOTimeout
	}
	opt.MaxRetries = 1
}
