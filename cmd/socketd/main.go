package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lrg1763/BarterswapWeb/internal/cache"
	rediscache "github.com/lrg1763/BarterswapWeb/internal/cache/redis"
	"github.com/lrg1763/BarterswapWeb/internal/chat"
	"github.com/lrg1763/BarterswapWeb/internal/identity"
	"github.com/lrg1763/BarterswapWeb/internal/metrics"
	"github.com/lrg1763/BarterswapWeb/internal/presence"
	asynqqueue "github.com/lrg1763/BarterswapWeb/internal/queue/asynq"
	"github.com/lrg1763/BarterswapWeb/internal/router"
	"github.com/lrg1763/BarterswapWeb/internal/server"
	"github.com/lrg1763/BarterswapWeb/internal/store/postgres"
	"github.com/lrg1763/BarterswapWeb/internal/tasks"
	"github.com/lrg1763/BarterswapWeb/pkg/config"
	"github.com/lrg1763/BarterswapWeb/pkg/logging"
	"github.com/lrg1763/BarterswapWeb/pkg/state/statemanager"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn(".env file not found or could not be loaded", slog.Any("error", err))
	}

	bootLogger := logging.New(logging.LevelInfo)
	cfg, err := config.Load(bootLogger, "config")
	if err != nil {
		bootLogger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Log.Level))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.URL == "" {
		logger.Error("database.url is required")
		os.Exit(1)
	}
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	pool, err := postgres.Connect(connectCtx, cfg.Database.URL)
	cancel()
	if err != nil {
		logger.Error("Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	st := postgres.New(pool)

	var kv cache.Cache
	if cfg.Redis.URL != "" {
		rc, err := rediscache.New(cfg.Redis.URL)
		if err != nil {
			logger.Warn("Redis unavailable; continuing without cache", slog.Any("error", err))
		} else {
			kv = rc
			defer rc.Close()
		}
	}
	names := cache.NewNames(logger, st, kv, cfg.Redis.UsernameTTL)

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	registry := statemanager.NewInMemoryRegistry(logger)
	tracker := presence.NewTracker(logger, st, names, registry)
	pipeline := chat.NewPipeline(logger, st, st, names, registry, m)
	typing := chat.NewTypingRelay(logger, names, registry)
	verifier := identity.NewVerifier(logger, st, cfg.Server.Auth.JWTSecret, cfg.Server.Auth.AllowRawID)
	eventRouter := router.NewEventRouter(logger, registry, pipeline, typing, tracker, m, cfg.Server.RateLimit)

	// The stale-presence sweep rides the background queue; without redis
	// the server runs fine, it just cannot repair crashed sessions.
	if cfg.Redis.URL != "" {
		qc, err := asynqqueue.NewClient(cfg.Redis.URL)
		if err != nil {
			logger.Warn("Queue client unavailable; presence sweep disabled", slog.Any("error", err))
		} else {
			defer qc.Close()
			qs, err := asynqqueue.NewServer(logger, cfg.Redis.URL, 2)
			if err != nil {
				logger.Warn("Queue server unavailable; presence sweep disabled", slog.Any("error", err))
			} else {
				sweeper := tasks.NewPresenceSweeper(logger, st, registry, qc, cfg.Presence.SweepInterval, cfg.Presence.StaleAfter)
				sweeper.Register(qs)
				go func() {
					if err := qs.Run(ctx); err != nil {
						logger.Error("Queue server failed", slog.Any("error", err))
					}
				}()
				if err := sweeper.Kickoff(ctx); err != nil {
					logger.Warn("Failed to schedule presence sweep", slog.Any("error", err))
				}
			}
		}
	}

	app := server.NewApp(logger, ctx, cfg, server.Deps{
		Registry:    registry,
		EventRouter: eventRouter,
		Presence:    tracker,
		Verifier:    verifier,
		Names:       names,
		Metrics:     m,
		PromReg:     promReg,
	})
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
