package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/practice-dashboard/internal/changefeed"
	"github.com/hackgods/practice-dashboard/internal/config"
	"github.com/hackgods/practice-dashboard/internal/db"
	"github.com/hackgods/practice-dashboard/internal/logging"
	"github.com/hackgods/practice-dashboard/internal/practice"
	redisclient "github.com/hackgods/practice-dashboard/internal/redis"
	"github.com/hackgods/practice-dashboard/internal/session"
)

// SimConfig drives a stream of clinic activity against live dashboards.
type SimConfig struct {
	APIBaseURL        string        `env:"SIM_API_BASE_URL"        env-default:"http://localhost:8080"`
	Duration          time.Duration `env:"SIM_DURATION"            env-default:"30s"`
	Workers           int           `env:"SIM_WORKERS"             env-default:"4"`
	BookingRatio      float64       `env:"SIM_BOOKING_RATIO"       env-default:"0.35"`
	ConfirmRatio      float64       `env:"SIM_CONFIRM_RATIO"       env-default:"0.2"`
	ReviewRatio       float64       `env:"SIM_REVIEW_RATIO"        env-default:"0.15"`
	ReadRatio         float64       `env:"SIM_READ_RATIO"          env-default:"0.3"`
	PractitionerLimit int           `env:"SIM_PRACTITIONER_LIMIT"  env-default:"5"`
	PatientLimit      int           `env:"SIM_PATIENT_LIMIT"       env-default:"500"`
	// Pause between operations per worker, so dashboards get a readable stream.
	Pace time.Duration `env:"SIM_PACE" env-default:"250ms"`
}

type DataPool struct {
	Practitioners []uuid.UUID
	Patients      []uuid.UUID

	mu      sync.RWMutex
	pending []practice.Appointment
}

func (dp *DataPool) AddPending(a practice.Appointment) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.pending = append(dp.pending, a)
}

// TakePending removes and returns a random pending appointment.
func (dp *DataPool) TakePending(f *gofakeit.Faker) (practice.Appointment, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.pending) == 0 {
		return practice.Appointment{}, false
	}
	idx := f.Number(0, len(dp.pending)-1)
	a := dp.pending[idx]
	dp.pending[idx] = dp.pending[len(dp.pending)-1]
	dp.pending = dp.pending[:len(dp.pending)-1]
	return a, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, lo, hi, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	lo = latencies[0]
	hi = latencies[len(latencies)-1]
	p50 = latencies[min(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	return avg, lo, hi, p50, p95
}

type Metrics struct {
	Booking   OperationMetrics
	Confirm   OperationMetrics
	Review    OperationMetrics
	Dashboard OperationMetrics
}

type Simulator struct {
	config    SimConfig
	pool      *pgxpool.Pool
	data      *DataPool
	client    *http.Client
	publisher changefeed.Publisher
	tokens    map[uuid.UUID]string
	today     string
	logger    *slog.Logger
	metrics   Metrics
}

func main() {
	base, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(base.Log)

	var cfg SimConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		logger.Error("sim config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := normalize(&cfg); err != nil {
		logger.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("simulator starting",
		slog.Duration("duration", cfg.Duration),
		slog.Int("workers", cfg.Workers),
		slog.String("feed", base.FeedBackend),
	)

	sim, cleanup, err := newSimulator(base, cfg, logger)
	if err != nil {
		logger.Error("setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer cleanup()

	sim.Run()
	sim.PrintReport()
}

func normalize(cfg *SimConfig) error {
	if cfg.Workers <= 0 {
		return errors.New("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return errors.New("SIM_DURATION must be > 0")
	}
	total := cfg.BookingRatio + cfg.ConfirmRatio + cfg.ReviewRatio + cfg.ReadRatio
	if total <= 0 {
		return errors.New("at least one SIM_*_RATIO must be > 0")
	}
	cfg.BookingRatio /= total
	cfg.ConfirmRatio /= total
	cfg.ReviewRatio /= total
	cfg.ReadRatio /= total
	return nil
}

func newSimulator(base config.Config, cfg SimConfig, logger *slog.Logger) (*Simulator, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	loc, err := base.Dashboard.TimeLocation()
	if err != nil {
		return nil, nil, err
	}

	pgPool, err := db.ConnectPostgres(ctx, base.PostgresDSN, int32(cfg.Workers+2))
	if err != nil {
		return nil, nil, err
	}
	cleanup := pgPool.Close

	data, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("load data pool: %w", err)
	}
	logger.Info("loaded",
		slog.Int("practitioners", len(data.Practitioners)),
		slog.Int("patients", len(data.Patients)),
	)

	sim := &Simulator{
		config: cfg,
		pool:   pgPool,
		data:   data,
		client: &http.Client{Timeout: 10 * time.Second},
		today:  practice.DateKey(time.Now().In(loc)),
		logger: logger,
	}

	// The Postgres trigger announces writes by itself; the Redis feed only
	// sees what application code publishes.
	switch base.FeedBackend {
	case config.FeedRedis:
		rdb, err := redisclient.NewRedisClient(ctx, base.RedisAddr, base.RedisUsername, base.RedisPassword, cfg.Workers)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		sim.publisher = changefeed.NewRedisFeed(rdb, logger)
		prev := cleanup
		cleanup = func() {
			_ = rdb.Close()
			prev()
		}
	case config.FeedMemory:
		logger.Warn("memory feed is process-local, dashboards will only see this activity by polling")
	}

	if base.Auth.Enabled() {
		verifier := session.NewTokenVerifier(base.Auth.JWTSecret, base.Auth.JWTIssuer)
		sim.tokens = make(map[uuid.UUID]string, len(data.Practitioners))
		for _, id := range data.Practitioners {
			tok, err := verifier.Issue(session.Context{UserID: uuid.New(), PractitionerID: id, Role: session.RoleDoctor}, cfg.Duration+time.Hour)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			sim.tokens[id] = tok
		}
	}

	for _, id := range data.Practitioners {
		url := fmt.Sprintf("%s/practitioners/%s/dashboard/ws", strings.Replace(cfg.APIBaseURL, "http", "ws", 1), id)
		if tok, ok := sim.tokens[id]; ok {
			url += "?access_token=" + tok
		}
		logger.Info("watch dashboard", slog.String("practitioner_id", id.String()), slog.String("ws", url))
	}

	return sim, cleanup, nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	practitioners, err := loadIDs(ctx, pool, `SELECT id FROM practitioners ORDER BY created_at LIMIT $1`, cfg.PractitionerLimit)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}
	patients, err := loadIDs(ctx, pool, `SELECT id FROM patients LIMIT $1`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}

	if len(practitioners) == 0 {
		return nil, errors.New("no practitioners loaded, run cmd/seed first")
	}
	if len(patients) == 0 {
		return nil, errors.New("no patients loaded, run cmd/seed first")
	}

	return &DataPool{Practitioners: practitioners, Patients: patients}, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation", slog.Duration("duration", s.config.Duration), slog.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context) {
	f := gofakeit.New(0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.Pace):
		}

		r := f.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, f)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.doConfirm(ctx, f)
		case r < s.config.BookingRatio+s.config.ConfirmRatio+s.config.ReviewRatio:
			s.doReview(ctx, f)
		default:
			s.doReadDashboard(ctx, f)
		}
	}
}

func (s *Simulator) pickPractitioner(f *gofakeit.Faker) uuid.UUID {
	return s.data.Practitioners[f.Number(0, len(s.data.Practitioners)-1)]
}

func (s *Simulator) pickPatient(f *gofakeit.Faker) uuid.UUID {
	return s.data.Patients[f.Number(0, len(s.data.Patients)-1)]
}

// newBooking builds a pending appointment for day. Time uses the HH:MM form
// the Postgres trigger and repository emit, so every feed carries one format.
func newBooking(f *gofakeit.Faker, practitionerID, patientID uuid.UUID, day string) practice.Appointment {
	reason := f.RandomString([]string{"Follow-up", "New symptoms", "Test results", "Prescription renewal"})
	return practice.Appointment{
		ID:             uuid.New(),
		PractitionerID: practitionerID,
		PatientID:      patientID,
		Date:           day,
		Time:           fmt.Sprintf("%02d:%02d", f.Number(8, 17), f.RandomInt([]int{0, 15, 30, 45})),
		Status:         practice.StatusPending,
		Reason:         &reason,
	}
}

func (s *Simulator) doBooking(ctx context.Context, f *gofakeit.Faker) {
	appt := newBooking(f, s.pickPractitioner(f), s.pickPatient(f), s.today)

	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO appointments (id, practitioner_id, patient_id, appointment_date, appointment_time, status, reason)
		VALUES ($1, $2, $3, $4::date, $5::time, $6, $7)
	`, appt.ID, appt.PractitionerID, appt.PatientID, appt.Date, appt.Time, string(appt.Status), appt.Reason)
	if err == nil {
		err = s.publish(ctx, changefeed.TopicAppointments, changefeed.EventInsert, appt.PractitionerID, appt)
	}
	latency := time.Since(start)

	if err == nil {
		s.data.AddPending(appt)
	} else if ctx.Err() == nil {
		s.logger.Debug("booking failed", slog.Any("error", err))
	}
	s.metrics.Booking.Record(latency, err == nil, false)
}

func (s *Simulator) doConfirm(ctx context.Context, f *gofakeit.Faker) {
	appt, ok := s.data.TakePending(f)
	if !ok {
		return
	}

	start := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments SET status = 'confirmed', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, appt.ID)
	conflict := err == nil && tag.RowsAffected() == 0
	if err == nil && !conflict {
		appt.Status = practice.StatusConfirmed
		err = s.publish(ctx, changefeed.TopicAppointments, changefeed.EventUpdate, appt.PractitionerID, appt)
	}
	latency := time.Since(start)

	if err != nil && ctx.Err() == nil {
		s.logger.Debug("confirm failed", slog.Any("error", err))
	}
	s.metrics.Confirm.Record(latency, err == nil && !conflict, conflict)
}

func (s *Simulator) doReview(ctx context.Context, f *gofakeit.Faker) {
	patientID := s.pickPatient(f)
	review := practice.Review{
		ID:             uuid.New(),
		PractitionerID: s.pickPractitioner(f),
		PatientID:      &patientID,
		Rating:         f.Number(1, 5),
		Status:         practice.ReviewApproved,
	}
	if f.Number(0, 9) < 3 {
		review.Status = practice.ReviewPending
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO doctor_reviews (id, practitioner_id, patient_id, rating, status)
		VALUES ($1, $2, $3, $4, $5)
	`, review.ID, review.PractitionerID, review.PatientID, review.Rating, string(review.Status))
	if err == nil {
		err = s.publish(ctx, changefeed.TopicReviews, changefeed.EventInsert, review.PractitionerID, review)
	}
	latency := time.Since(start)

	if err != nil && ctx.Err() == nil {
		s.logger.Debug("review failed", slog.Any("error", err))
	}
	s.metrics.Review.Record(latency, err == nil, false)
}

func (s *Simulator) doReadDashboard(ctx context.Context, f *gofakeit.Faker) {
	id := s.pickPractitioner(f)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/practitioners/%s/dashboard/", s.config.APIBaseURL, id), nil)
	if err != nil {
		return
	}
	if tok, ok := s.tokens[id]; ok {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		success = resp.StatusCode == http.StatusOK
		_ = resp.Body.Close()
	}
	if ctx.Err() != nil {
		return
	}
	s.metrics.Dashboard.Record(latency, success, false)
}

func (s *Simulator) publish(ctx context.Context, topic changefeed.Topic, typ changefeed.EventType, practitionerID uuid.UUID, record any) error {
	if s.publisher == nil {
		return nil
	}
	ev, err := changefeed.NewEvent(typ, record)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, topic, practitionerID, ev)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Practitioners: %d\n", len(s.data.Practitioners))
	fmt.Println()

	printOperationReport("Book appointment", &s.metrics.Booking)
	printOperationReport("Confirm appointment", &s.metrics.Confirm)
	printOperationReport("Submit review", &s.metrics.Review)
	printOperationReport("Read dashboard", &s.metrics.Dashboard)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, lo, hi, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), lo.Round(time.Millisecond), hi.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
