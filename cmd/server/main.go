package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/router"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
	"github.com/stemsi/exstem-session/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("store", cfg.StoreDriver).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem session service")

	// ─── Initialize Validator & Metrics ────────────────────────────────
	validator.Setup()
	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Durable Store ─────────────────────────────────────────────────
	dialect, err := database.ParseDialect(cfg.StoreDriver)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid STORE_DRIVER")
	}
	store := database.NewStore(dialect, cfg.StoreDSN, log)
	defer store.Close()

	// The store opens lazily; a failed warm-up is retried on first use.
	if err := store.Run(ctx, func(context.Context, *database.Handle) error { return nil }); err != nil {
		log.Warn().Err(err).Msg("Session store not reachable yet")
	}

	// ─── Repositories (+ optional Redis cache) ─────────────────────────
	testStore := repository.NewTestSessionStore(store, log)
	writingStore := repository.NewWritingSessionStore(store, log)

	if cfg.RedisURL != "" {
		rdb, err := database.NewRedisClient(ctx, cfg, log)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unavailable, record cache disabled")
		} else {
			defer rdb.Close()
			testStore.WithCache(rdb, cfg.CacheTTL)
			writingStore.WithCache(rdb, cfg.CacheTTL)
		}
	}

	// ─── Initialize Services ──────────────────────────────────────────
	tabOpts := service.DefaultTabOptions()
	tabOpts.AutosaveDebounce = cfg.AutosaveDebounce
	tabOpts.AutosaveMaxWait = cfg.AutosaveMaxWait
	tabOpts.RestartGuardTTL = cfg.RestartGuardTTL
	tabOpts.RestartSettle = cfg.RestartSettle

	sessions := &service.Sessions{
		Tests:   service.NewSessionService[model.SessionRecord, *model.SessionRecord](testStore, 0, tabOpts, log),
		Writing: service.NewSessionService[model.WritingSessionRecord, *model.WritingSessionRecord](writingStore, cfg.WritingStaleAfter, tabOpts, log),
	}
	authService := service.NewAuthService(cfg)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessions, log),
		WS:      handler.NewWSHandler(sessions, log, cfg.AllowedOrigins, cfg.WebSocketReadExpiry),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	if cfg.WritingStaleAfter > 0 && cfg.JanitorInterval > 0 {
		janitor := worker.NewJanitor(writingStore, cfg.WritingStaleAfter, cfg.JanitorInterval, log)
		go janitor.Start(workerCtx)
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new requests. Hijacked WebSocket connections are not
	// tracked by Shutdown; their tabs close when the process exits.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers.
	workerCancel()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
