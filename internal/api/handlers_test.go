package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/practice-dashboard/internal/changefeed"
	"github.com/hackgods/practice-dashboard/internal/dashboard"
	"github.com/hackgods/practice-dashboard/internal/logging"
	"github.com/hackgods/practice-dashboard/internal/practice"
	"github.com/hackgods/practice-dashboard/internal/session"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// stubRepo serves one practitioner with a fixed schedule.
type stubRepo struct {
	practitionerID uuid.UUID
	appointments   []practice.Appointment
}

func (s *stubRepo) CountAppointmentsOn(context.Context, uuid.UUID, string) (int, error) {
	return len(s.appointments), nil
}

func (s *stubRepo) CountDistinctPatients(context.Context, uuid.UUID) (int, error) { return 7, nil }

func (s *stubRepo) CountReviews(context.Context, uuid.UUID, practice.ReviewStatus) (int, error) {
	return 2, nil
}

func (s *stubRepo) AverageRating(context.Context, uuid.UUID) (float64, error) { return 4.5, nil }

func (s *stubRepo) ListAppointmentsOn(context.Context, uuid.UUID, string) ([]practice.Appointment, error) {
	return s.appointments, nil
}

func (s *stubRepo) ListPatientsByIDs(context.Context, []uuid.UUID) ([]practice.Patient, error) {
	return nil, nil
}

func (s *stubRepo) ListChambers(context.Context, uuid.UUID) ([]practice.Chamber, error) {
	return []practice.Chamber{{ID: uuid.New(), PractitionerID: s.practitionerID, Name: "Main", Address: "1 High St"}}, nil
}

func (s *stubRepo) GetPractitionerByID(_ context.Context, id uuid.UUID) (*practice.Practitioner, error) {
	if id != s.practitionerID {
		return nil, practice.ErrNotFound
	}
	return &practice.Practitioner{ID: id, Name: "Dr. Stub"}, nil
}

type testEnv struct {
	practitionerID uuid.UUID
	feed           *changefeed.MemoryFeed
	registry       *dashboard.Registry
	verifier       *session.TokenVerifier
	handler        http.Handler
}

func newTestEnv(t *testing.T, withAuth bool) *testEnv {
	t.Helper()

	id := uuid.New()
	repo := &stubRepo{
		practitionerID: id,
		appointments: []practice.Appointment{
			{ID: uuid.New(), PractitionerID: id, PatientID: uuid.New(), Date: "2025-03-14", Time: "09:00", Status: practice.StatusPending},
		},
	}
	feed := changefeed.NewMemoryFeed()
	registry := dashboard.NewRegistry(repo, feed, dashboard.Options{Logger: logging.Discard()})
	t.Cleanup(func() {
		registry.Close()
		_ = feed.Close()
	})

	env := &testEnv{practitionerID: id, feed: feed, registry: registry}
	cfg := RouterConfig{
		Dashboards: registry,
		Postgres:   PingFunc(func(context.Context) error { return nil }),
		Logger:     logging.Discard(),
		Env:        "test",
	}
	if withAuth {
		env.verifier = session.NewTokenVerifier(testSecret, "practice-dashboard")
		cfg.Verifier = env.verifier
	}
	env.handler = NewRouter(cfg)
	return env
}

func (e *testEnv) token(t *testing.T, s session.Context) string {
	t.Helper()
	tok, err := e.verifier.Issue(s, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// ---------------------------------------------------------------------------
// REST
// ---------------------------------------------------------------------------

func TestDashboardHandler_State(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)

	rec := env.do(http.MethodGet, "/practitioners/"+env.practitionerID.String()+"/dashboard", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, map[string]any{
		"todayAppointments": float64(1),
		"totalPatients":     float64(7),
		"avgRating":         4.5,
		"reviewCount":       float64(2),
	}, body["stats"])
	assert.Len(t, body["todayAppointments"], 1)
	assert.Len(t, body["chambers"], 1)
	assert.Equal(t, false, body["isLoading"])
	assert.Contains(t, body, "lastUpdated")

	assert.Equal(t, 0, env.registry.Len(), "dashboard released after the request")
}

func TestDashboardHandler_Refresh(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)

	rec := env.do(http.MethodPost, "/practitioners/"+env.practitionerID.String()+"/dashboard/refresh", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var state dashboard.State
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	assert.Equal(t, env.practitionerID, state.PractitionerID)
	assert.Equal(t, 7, state.Stats.TotalPatients)
}

func TestDashboardHandler_Errors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantErr  string
	}{
		{name: "malformed id", path: "/practitioners/not-a-uuid/dashboard", wantCode: http.StatusBadRequest, wantErr: "invalid_practitioner_id"},
		{name: "nil id", path: "/practitioners/" + uuid.Nil.String() + "/dashboard", wantCode: http.StatusBadRequest, wantErr: "invalid_practitioner_id"},
		{name: "unknown practitioner", path: "/practitioners/" + uuid.New().String() + "/dashboard", wantCode: http.StatusNotFound, wantErr: "practitioner_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, tt.path, "")

			require.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, rec).Error)
		})
	}
}

func TestDashboardHandler_Auth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	path := "/practitioners/" + env.practitionerID.String() + "/dashboard"

	tests := []struct {
		name     string
		token    func() string
		wantCode int
	}{
		{name: "no token", token: func() string { return "" }, wantCode: http.StatusUnauthorized},
		{name: "garbage token", token: func() string { return "not.a.jwt" }, wantCode: http.StatusUnauthorized},
		{
			name:     "other practitioner",
			token:    func() string { return env.token(t, session.ForPractitioner(uuid.New())) },
			wantCode: http.StatusForbidden,
		},
		{
			name:     "own dashboard",
			token:    func() string { return env.token(t, session.ForPractitioner(env.practitionerID)) },
			wantCode: http.StatusOK,
		},
		{
			name:     "admin",
			token:    func() string { return env.token(t, session.Context{UserID: uuid.New(), Role: session.RoleAdmin}) },
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, path, tt.token())
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestDashboardHandler_TokenInQuery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)
	tok := env.token(t, session.ForPractitioner(env.practitionerID))

	rec := env.do(http.MethodGet, "/practitioners/"+env.practitionerID.String()+"/dashboard?access_token="+tok, "")

	assert.Equal(t, http.StatusOK, rec.Code)
}

// ---------------------------------------------------------------------------
// Websocket
// ---------------------------------------------------------------------------

func TestDashboardHandler_Stream(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/practitioners/" + env.practitionerID.String() + "/dashboard/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first dashboard.Update
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, env.practitionerID, first.State.PractitionerID)
	assert.Nil(t, first.Notice)
	assert.Equal(t, 1, env.registry.Len())

	appt := practice.Appointment{ID: uuid.New(), PractitionerID: env.practitionerID, Date: "2025-03-14", Time: "12:30", Status: practice.StatusPending}
	ev, err := changefeed.NewEvent(changefeed.EventInsert, appt)
	require.NoError(t, err)
	require.NoError(t, env.feed.Publish(context.Background(), changefeed.TopicAppointments, env.practitionerID, ev))

	for {
		var u dashboard.Update
		require.NoError(t, conn.ReadJSON(&u))
		if u.Notice == nil {
			continue
		}
		assert.Equal(t, dashboard.NoticeNewAppointment, u.Notice.Kind)
		require.NotNil(t, u.Notice.Appointment)
		assert.Equal(t, appt.ID, u.Notice.Appointment.ID)
		break
	}

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return env.registry.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestDashboardHandler_StreamRejectsUnknownPractitioner(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, false)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/practitioners/" + uuid.New().String() + "/dashboard/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)

	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestHealthHandler_Readiness(t *testing.T) {
	t.Parallel()

	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	tests := []struct {
		name       string
		postgres   Pinger
		redis      Pinger
		wantCode   int
		wantStatus string
		wantDeps   map[string]string
	}{
		{name: "all up", postgres: up, redis: up, wantCode: http.StatusOK, wantStatus: "ok", wantDeps: map[string]string{"postgres": "ok", "redis": "ok"}},
		{name: "redis down", postgres: up, redis: down, wantCode: http.StatusOK, wantStatus: "degraded", wantDeps: map[string]string{"postgres": "ok", "redis": "down"}},
		{name: "postgres down", postgres: down, redis: up, wantCode: http.StatusServiceUnavailable, wantStatus: "error", wantDeps: map[string]string{"postgres": "down", "redis": "ok"}},
		{name: "no redis configured", postgres: up, redis: nil, wantCode: http.StatusOK, wantStatus: "ok", wantDeps: map[string]string{"postgres": "ok"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.postgres, tt.redis, "test", "v1")
			rec := httptest.NewRecorder()

			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			require.Equal(t, tt.wantCode, rec.Code)
			var resp ReadinessResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantDeps, resp.Dependencies)
		})
	}
}

func TestHealthHandler_Liveness(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, true)

	rec := env.do(http.MethodGet, "/health/live", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp LivenessResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Env)
}
