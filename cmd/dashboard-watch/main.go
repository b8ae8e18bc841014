package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practice-dashboard/internal/changefeed"
	"github.com/hackgods/practice-dashboard/internal/config"
	"github.com/hackgods/practice-dashboard/internal/dashboard"
	"github.com/hackgods/practice-dashboard/internal/db"
	"github.com/hackgods/practice-dashboard/internal/logging"
	"github.com/hackgods/practice-dashboard/internal/practice"
	redisclient "github.com/hackgods/practice-dashboard/internal/redis"
	"github.com/hackgods/practice-dashboard/internal/session"
)

// dashboard-watch keeps one practitioner's dashboard open and logs every
// update and notice until interrupted.
func main() {
	practitioner := flag.String("practitioner", os.Getenv("WATCH_PRACTITIONER_ID"), "practitioner id to watch")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	id, err := uuid.Parse(*practitioner)
	if err != nil {
		logger.Error("invalid -practitioner", slog.String("value", *practitioner), slog.Any("error", err))
		os.Exit(2)
	}

	if err := run(cfg, id, logger); err != nil {
		logger.Error("dashboard-watch stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, id uuid.UUID, logger *slog.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Dashboard.TimeLocation()
	if err != nil {
		return err
	}

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, 5)
	cancelPg()
	if err != nil {
		return err
	}
	defer pgPool.Close()

	repo := practice.NewPgRepository(pgPool)
	p, err := repo.GetPractitionerByID(rootCtx, id)
	if err != nil {
		return fmt.Errorf("lookup practitioner: %w", err)
	}

	var feed changefeed.Feed
	switch cfg.FeedBackend {
	case config.FeedRedis:
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, 0)
		if err != nil {
			return err
		}
		defer rdb.Close()
		feed = changefeed.NewRedisFeed(rdb, logger)
	case config.FeedMemory:
		logger.Warn("memory feed receives nothing from other processes, relying on polling")
		mem := changefeed.NewMemoryFeed()
		defer mem.Close()
		feed = mem
	default:
		pg := changefeed.NewPgFeed(pgPool, logger)
		defer pg.Close()
		feed = pg
	}

	d := dashboard.New(rootCtx, repo, feed, session.ForPractitioner(id), dashboard.Options{
		PollInterval: cfg.Dashboard.PollInterval,
		QueryTimeout: cfg.Dashboard.QueryTimeout,
		Location:     loc,
		Logger:       logger,
		OnNewAppointment: func(a practice.Appointment) {
			logger.Info("callback: new appointment", slog.String("appointment_id", a.ID.String()))
		},
	})
	defer d.Close()

	updates, unsubscribe := d.Subscribe()
	defer unsubscribe()

	logger.Info("watching dashboard", slog.String("practitioner", p.Name), slog.String("practitioner_id", id.String()))
	logState(logger, d.State())

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping watcher")
			return nil
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Notice != nil {
				logger.Info("notice", slog.String("kind", string(u.Notice.Kind)), slog.String("message", u.Notice.Message))
				continue
			}
			if !u.State.IsLoading {
				logState(logger, u.State)
			}
		}
	}
}

func logState(logger *slog.Logger, s dashboard.State) {
	logger.Info("dashboard",
		slog.Int("today_appointments", s.Stats.TodayAppointments),
		slog.Int("total_patients", s.Stats.TotalPatients),
		slog.Float64("avg_rating", s.Stats.AvgRating),
		slog.Int("review_count", s.Stats.ReviewCount),
		slog.Int("schedule", len(s.TodayAppointments)),
		slog.Int("chambers", len(s.Chambers)),
		slog.Time("last_updated", s.LastUpdated),
	)
}
