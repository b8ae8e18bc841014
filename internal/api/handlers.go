package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hackgods/practice-dashboard/internal/dashboard"
	"github.com/hackgods/practice-dashboard/internal/practice"
	"github.com/hackgods/practice-dashboard/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type dashboardRegistry interface {
	Acquire(ctx context.Context, practitionerID uuid.UUID) (*dashboard.Dashboard, func(), error)
}

type DashboardHandler struct {
	registry dashboardRegistry
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewDashboardHandler(registry dashboardRegistry, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		registry: registry,
		logger:   logger.With(slog.String("handler", "dashboard")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Access is decided by the bearer token, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// State returns the current dashboard snapshot.
// GET /practitioners/{id}/dashboard
func (h *DashboardHandler) State(w http.ResponseWriter, r *http.Request) {
	d, release, ok := h.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	writeJSON(w, http.StatusOK, d.State())
}

// Refresh re-runs every query and returns the resulting snapshot.
// POST /practitioners/{id}/dashboard/refresh
func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	d, release, ok := h.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	d.Refresh(r.Context())
	writeJSON(w, http.StatusOK, d.State())
}

// Stream pushes one JSON message per dashboard update over a websocket.
// GET /practitioners/{id}/dashboard/ws
func (h *DashboardHandler) Stream(w http.ResponseWriter, r *http.Request) {
	d, release, ok := h.acquire(w, r)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		release()
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	updates, unsubscribe := d.Subscribe()
	c := &client{
		conn:   conn,
		logger: h.logger.With(slog.String("request_id", GetRequestID(r.Context()))),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.writePump(dashboard.Update{State: d.State()}, updates)
	}()

	c.readPump()
	unsubscribe()
	<-done
	release()
}

func (h *DashboardHandler) acquire(w http.ResponseWriter, r *http.Request) (*dashboard.Dashboard, func(), bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil || id == uuid.Nil {
		writeError(w, http.StatusBadRequest, "invalid_practitioner_id", ErrInvalidPractitionerID.Error())
		return nil, nil, false
	}

	sess, _ := session.FromContext(r.Context())
	if !sess.CanView(id) {
		writeError(w, http.StatusForbidden, "forbidden", ErrForbidden.Error())
		return nil, nil, false
	}

	d, release, err := h.registry.Acquire(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, practice.ErrNotFound):
			writeError(w, http.StatusNotFound, "practitioner_not_found", err.Error())
		case errors.Is(err, dashboard.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "acquire dashboard",
				slog.String("practitioner_id", id.String()),
				slog.Any("error", err),
			)
			writeError(w, http.StatusInternalServerError, "internal_error", "could not load dashboard")
		}
		return nil, nil, false
	}
	return d, release, true
}

type client struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// readPump discards client messages and returns once the peer goes away.
func (c *client) readPump() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read", slog.Any("error", err))
			}
			return
		}
	}
}

// writePump sends first, then every update until the channel is closed.
func (c *client) writePump(first dashboard.Update, updates <-chan dashboard.Update) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	if err := c.write(first); err != nil {
		return
	}

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.write(u); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) write(u dashboard.Update) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(u)
}
