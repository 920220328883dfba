package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/gochat-relay/internal/autoreply"
	"github.com/Tyrowin/gochat-relay/internal/config"
	"github.com/Tyrowin/gochat-relay/internal/history"
	"github.com/Tyrowin/gochat-relay/internal/notify"
	"github.com/Tyrowin/gochat-relay/internal/relay"
	"github.com/Tyrowin/gochat-relay/internal/scheduler"
	"github.com/Tyrowin/gochat-relay/internal/server"
	"github.com/Tyrowin/gochat-relay/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := cfg.NewLogger()

	ctx := context.Background()

	// Shared Postgres handle for history and push subscriptions
	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = history.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer db.Close()
		logger.Info().Msg("connected to PostgreSQL")
	}

	store, closeStore := openHistory(ctx, cfg, db, logger)
	defer closeStore()

	subs := openSubscriptions(ctx, db, logger)

	hub := server.NewHub(logger)

	var (
		pusher   *notify.Dispatcher
		notifier relay.Notifier
	)
	if cfg.PushEnabled() {
		sender := notify.NewWebPushSender(notify.VAPID{
			PublicKey:  cfg.VAPIDPublicKey,
			PrivateKey: cfg.VAPIDPrivateKey,
			Subject:    cfg.VAPIDSubject,
		}, cfg.NotifyTTL, nil)
		pusher = notify.NewDispatcher(subs, sender, notify.Options{
			Title:       cfg.NotifyTitle,
			MaxInFlight: cfg.NotifyMaxInFlight,
			MaxPending:  cfg.NotifyMaxPending,
		}, logger)
		notifier = pusher
	} else {
		logger.Warn().Msg("VAPID keys not set, push notifications disabled")
	}

	var handler relay.Handler
	switch cfg.Mode {
	case config.ModeBroadcast:
		handler = relay.NewBroadcast(hub, logger)
	default:
		handler = relay.NewDispatcher(store, loadAutoReplies(cfg, logger), hub, notifier, logger)
	}

	uploads, err := upload.NewService(cfg.UploadDir, server.UploadsPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("upload directory unavailable")
	}

	sched := scheduler.New(logger)
	if err := sched.Add("stats", cfg.StatsSchedule, scheduler.StatsJob(store, hub.ClientCount, logger)); err != nil {
		logger.Fatal().Err(err).Msg("invalid stats schedule")
	}

	srv := server.New(server.Config{
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit: server.RateLimitConfig{
			Burst:          cfg.RateLimitBurst,
			RefillInterval: cfg.RateLimitRefillInterval,
		},
		UploadMaxBytes: cfg.UploadMaxBytes,
	}, server.Deps{
		Hub:           hub,
		Handler:       handler,
		Store:         store,
		Subscriptions: subs,
		Uploads:       uploads,
		Mode:          string(cfg.Mode),
	}, logger)

	go hub.Run()
	sched.Start()

	httpServer := server.CreateServer(cfg.Port, srv.Routes())
	go func() {
		logger.Info().
			Str("mode", string(cfg.Mode)).
			Str("history", string(cfg.HistoryBackend)).
			Str("env", cfg.Env).
			Msg("starting chat relay")

		if err := server.StartServer(httpServer, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn().Err(err).Msg("hub shutdown incomplete")
	}
	sched.Stop()
	if pusher != nil {
		if err := pusher.Shutdown(cfg.ShutdownTimeout); err != nil {
			logger.Warn().Err(err).Msg("pending notifications dropped")
		}
	}

	logger.Info().Msg("server stopped")
}

func openHistory(ctx context.Context, cfg *config.Config, db *sql.DB, logger zerolog.Logger) (history.Store, func()) {
	switch cfg.HistoryBackend {
	case config.BackendRedis:
		store, err := history.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		logger.Info().Msg("history stored in Redis")
		return store, func() { _ = store.Close() }

	case config.BackendPostgres:
		store := history.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("history migration failed")
		}
		logger.Info().Msg("history stored in PostgreSQL")
		return store, func() {}

	default:
		logger.Info().Msg("history kept in memory")
		return history.NewMemoryStore(), func() {}
	}
}

func openSubscriptions(ctx context.Context, db *sql.DB, logger zerolog.Logger) notify.SubscriptionStore {
	if db == nil {
		return notify.NewMemorySubscriptions()
	}
	subs := notify.NewPostgresSubscriptions(db)
	if err := subs.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("subscription migration failed")
	}
	return subs
}

func loadAutoReplies(cfg *config.Config, logger zerolog.Logger) *autoreply.Engine {
	if cfg.AutoReplyRulesFile == "" {
		return autoreply.Default()
	}
	engine, err := autoreply.LoadFile(cfg.AutoReplyRulesFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.AutoReplyRulesFile).Msg("invalid auto-reply rules")
	}
	logger.Info().Int("rules", len(engine.Rules())).Msg("loaded auto-reply rules")
	return engine
}
