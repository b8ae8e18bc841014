package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/practice-dashboard/internal/session"
)

type RouterConfig struct {
	Dashboards dashboardRegistry
	// Verifier is nil when authentication is disabled.
	Verifier *session.TokenVerifier
	Postgres Pinger
	Redis    Pinger
	Logger   *slog.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	var verifier tokenVerifier
	if cfg.Verifier != nil {
		verifier = cfg.Verifier
	}

	dash := NewDashboardHandler(cfg.Dashboards, cfg.Logger)
	r.Route("/practitioners/{id}/dashboard", func(r chi.Router) {
		r.Use(AuthMiddleware(verifier))
		r.Get("/", dash.State)
		r.Post("/refresh", dash.Refresh)
		r.Get("/ws", dash.Stream)
	})

	return r
}
