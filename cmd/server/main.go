// Command server runs the live-chat backend: the widget-facing API, the
// admin console API, the WebSocket event stream, and the background loops
// (limiter sweeper, retention sweeper).
//
// Configuration comes from the environment (optionally a .env file in
// development); see internal/config for every knob and its default.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/driftline/livechat-backend/docs"
	"github.com/driftline/livechat-backend/internal/config"
	httpapi "github.com/driftline/livechat-backend/internal/http"
	"github.com/driftline/livechat-backend/internal/notify"
	"github.com/driftline/livechat-backend/internal/observability"
	"github.com/driftline/livechat-backend/internal/ratelimit"
	"github.com/driftline/livechat-backend/internal/realtime"
	"github.com/driftline/livechat-backend/internal/repo"
	"github.com/driftline/livechat-backend/internal/services"
	"github.com/driftline/livechat-backend/internal/sysutil"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// @title        Live Chat Backend API
// @version      1.0
// @description  Anonymous visitor chat for the marketing site, plus the staff console.
// @BasePath     /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in   header
// @name Authorization
func main() {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Info().Str("version", version).Str("port", cfg.Port).Msg("starting live-chat backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing (no-op unless enabled).
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	// Storage.
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// Shared infrastructure: fixed-window limiter, in-process event hub,
	// Telegram notifier (disabled when unconfigured).
	limiter := ratelimit.New()
	go limiter.StartSweeper(ctx, cfg.Limits.SweepInterval)

	hub := realtime.NewHub()

	notifier := &notify.Telegram{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
	}
	if !notifier.Enabled() {
		log.Warn().Msg("telegram notifier not configured; staff alerts disabled")
	}

	// Retention: hard-delete conversations past the inactivity horizon.
	sweeper := &services.RetentionSweeper{
		DB:       db,
		MaxAge:   cfg.Retention.MaxAge,
		Interval: cfg.Retention.Interval,
	}
	go sweeper.Run(ctx)

	// HTTP engine and routes.
	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, db, limiter, hub, notifier, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server failed")
	}

	// Drain in-flight requests, then tear the rest down.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	hub.Close()
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown failed")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("bye")
}
