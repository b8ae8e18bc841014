package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/practice-dashboard/internal/api"
	"github.com/hackgods/practice-dashboard/internal/changefeed"
	"github.com/hackgods/practice-dashboard/internal/config"
	"github.com/hackgods/practice-dashboard/internal/dashboard"
	"github.com/hackgods/practice-dashboard/internal/db"
	"github.com/hackgods/practice-dashboard/internal/logging"
	"github.com/hackgods/practice-dashboard/internal/practice"
	redisclient "github.com/hackgods/practice-dashboard/internal/redis"
	"github.com/hackgods/practice-dashboard/internal/session"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	logger.Info("api-server starting up",
		slog.String("env", cfg.Env),
		slog.String("http_port", cfg.HTTPPort),
		slog.String("feed", cfg.FeedBackend),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("api-server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("api-server stopped")
}

func run(cfg config.Config, logger *slog.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Dashboard.TimeLocation()
	if err != nil {
		return err
	}

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	if cfg.MigrateOnStart {
		if err := db.Migrate(rootCtx, pgPool, logger); err != nil {
			return err
		}
	}

	// Redis is optional unless it carries the change feed.
	var rdb *redis.Client
	if cfg.RedisURL != "" || cfg.FeedBackend == config.FeedRedis {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, 0)
		if err != nil {
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", slog.Any("error", err))
			}
		}()
		logger.Info("connected to Redis")
	}

	feed, closeFeed := newFeed(cfg, pgPool, rdb, logger)
	defer closeFeed()

	registry := dashboard.NewRegistry(practice.NewPgRepository(pgPool), feed, dashboard.Options{
		PollInterval: cfg.Dashboard.PollInterval,
		QueryTimeout: cfg.Dashboard.QueryTimeout,
		Location:     loc,
		Logger:       logger,
	})
	defer registry.Close()

	routerCfg := api.RouterConfig{
		Dashboards: registry,
		Postgres:   pgPool,
		Logger:     logger,
		Env:        cfg.Env,
		Version:    version,
	}
	if rdb != nil {
		routerCfg.Redis = api.PingFunc(redisclient.Ping(rdb))
	}
	if cfg.Auth.Enabled() {
		routerCfg.Verifier = session.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	} else {
		logger.Warn("AUTH_JWT_SECRET not set, dashboards are readable without a token")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Shutdown does not track hijacked websocket connections; closing the
	// registry ends their streams.
	srv.RegisterOnShutdown(registry.Close)
	return srv.Shutdown(shutdownCtx)
}

func newFeed(cfg config.Config, pool *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger) (changefeed.Feed, func()) {
	switch cfg.FeedBackend {
	case config.FeedRedis:
		return changefeed.NewRedisFeed(rdb, logger), func() {}
	case config.FeedMemory:
		mem := changefeed.NewMemoryFeed()
		return mem, func() { _ = mem.Close() }
	default:
		pg := changefeed.NewPgFeed(pool, logger)
		return pg, func() { _ = pg.Close() }
	}
}
