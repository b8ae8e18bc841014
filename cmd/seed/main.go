package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/practice-dashboard/internal/config"
	"github.com/hackgods/practice-dashboard/internal/db"
	"github.com/hackgods/practice-dashboard/internal/logging"
	"github.com/hackgods/practice-dashboard/internal/practice"
)

type seedConfig struct {
	Practitioners int `env:"SEED_PRACTITIONERS"  env-default:"20"`
	Patients      int `env:"SEED_PATIENTS"       env-default:"2000"`
	Appointments  int `env:"SEED_APPOINTMENTS"   env-default:"60"`
	Reviews       int `env:"SEED_REVIEWS"        env-default:"15"`
	// Appointments are spread over this many days either side of today.
	SpreadDays int `env:"SEED_SPREAD_DAYS" env-default:"7"`
}

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var reasons = []string{
	"Follow-up",
	"Annual check-up",
	"Prescription renewal",
	"Test results",
	"New symptoms",
	"Vaccination",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	var sc seedConfig
	if err := cleanenv.ReadEnv(&sc); err != nil {
		logger.Error("seed config", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("seed starting",
		slog.Int("practitioners", sc.Practitioners),
		slog.Int("patients", sc.Patients),
	)

	ctx := context.Background()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, 4)
	cancel()
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	loc, err := cfg.Dashboard.TimeLocation()
	if err != nil {
		logger.Error("location", slog.Any("error", err))
		os.Exit(1)
	}

	gofakeit.Seed(time.Now().UnixNano())

	s := &seeder{pool: pool, logger: logger, cfg: sc, today: time.Now().In(loc)}
	if err := s.run(ctx); err != nil {
		logger.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("seed complete")
}

type seeder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	cfg    seedConfig
	today  time.Time
}

func (s *seeder) run(ctx context.Context) error {
	if s.cfg.Practitioners <= 0 || s.cfg.Patients <= 0 {
		return fmt.Errorf("SEED_PRACTITIONERS and SEED_PATIENTS must be > 0")
	}

	practitioners, err := s.seedPractitioners(ctx)
	if err != nil {
		return fmt.Errorf("seed practitioners: %w", err)
	}
	patients, err := s.seedPatients(ctx)
	if err != nil {
		return fmt.Errorf("seed patients: %w", err)
	}

	for i, id := range practitioners {
		if err := s.seedPractice(ctx, id, patients); err != nil {
			return fmt.Errorf("seed practice %s: %w", id, err)
		}
		if (i+1)%10 == 0 || i+1 == len(practitioners) {
			s.logger.Info("practices seeded", slog.Int("done", i+1), slog.Int("total", len(practitioners)))
		}
	}

	s.logger.Info("first practitioner", slog.String("practitioner_id", practitioners[0].String()))
	return nil
}

func (s *seeder) seedPractitioners(ctx context.Context) ([]uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, s.cfg.Practitioners)
	for i := 0; i < s.cfg.Practitioners; i++ {
		id := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO practitioners (id, name, specialty)
			VALUES ($1, $2, $3)
		`, id, "Dr. "+gofakeit.Name(), gofakeit.RandomString(specialties))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *seeder) seedPatients(ctx context.Context) ([]uuid.UUID, error) {
	const batchSize = 500

	ids := make([]uuid.UUID, 0, s.cfg.Patients)
	for offset := 0; offset < s.cfg.Patients; offset += batchSize {
		end := min(offset+batchSize, s.cfg.Patients)

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return nil, err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			dob := gofakeit.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, date_of_birth)
				VALUES ($1, $2, $3)
			`, id, gofakeit.Name(), dob)
			if err != nil {
				_ = tx.Rollback(ctx)
				return nil, err
			}
			ids = append(ids, id)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		s.logger.Debug("patients seeded", slog.Int("done", end), slog.Int("total", s.cfg.Patients))
	}
	return ids, nil
}

// seedPractice writes one practitioner's chambers, appointments and reviews
// in a single transaction.
func (s *seeder) seedPractice(ctx context.Context, practitionerID uuid.UUID, patients []uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i, n := 0, gofakeit.Number(1, 3); i < n; i++ {
		timing := fmt.Sprintf("%02d:00-%02d:00", gofakeit.Number(8, 10), gofakeit.Number(13, 18))
		_, err := tx.Exec(ctx, `
			INSERT INTO doctor_chambers (id, practitioner_id, name, address, timing, days, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now() - make_interval(days => $7))
		`, uuid.New(), practitionerID, gofakeit.Company()+" Clinic", gofakeit.Street()+", "+gofakeit.City(),
			timing, pickDays(), n-i)
		if err != nil {
			return err
		}
	}

	// Each practitioner sees a subset of patients, so distinct counts stay meaningful.
	roster := make([]uuid.UUID, gofakeit.Number(5, 40))
	for i := range roster {
		roster[i] = patients[gofakeit.Number(0, len(patients)-1)]
	}

	for i := 0; i < s.cfg.Appointments; i++ {
		day := s.today.AddDate(0, 0, gofakeit.Number(-s.cfg.SpreadDays, s.cfg.SpreadDays))
		at := fmt.Sprintf("%02d:%02d", gofakeit.Number(8, 17), gofakeit.RandomInt([]int{0, 15, 30, 45}))
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (id, practitioner_id, patient_id, appointment_date, appointment_time, status, reason)
			VALUES ($1, $2, $3, $4::date, $5::time, $6, $7)
		`, uuid.New(), practitionerID, roster[gofakeit.Number(0, len(roster)-1)],
			practice.DateKey(day), at, statusFor(day, s.today), gofakeit.RandomString(reasons))
		if err != nil {
			return err
		}
	}

	for i := 0; i < s.cfg.Reviews; i++ {
		status := practice.ReviewApproved
		if gofakeit.Number(0, 9) < 2 {
			status = practice.ReviewStatus(gofakeit.RandomString([]string{string(practice.ReviewPending), string(practice.ReviewRejected)}))
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO doctor_reviews (id, practitioner_id, patient_id, rating, status)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.New(), practitionerID, roster[gofakeit.Number(0, len(roster)-1)], gofakeit.Number(1, 5), string(status))
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func statusFor(day, today time.Time) string {
	if practice.DateKey(day) < practice.DateKey(today) {
		return gofakeit.RandomString([]string{string(practice.StatusCompleted), string(practice.StatusCancelled)})
	}
	return gofakeit.RandomString([]string{string(practice.StatusPending), string(practice.StatusConfirmed)})
}

func pickDays() []string {
	week := []string{"mon", "tue", "wed", "thu", "fri", "sat"}
	var days []string
	for _, d := range week {
		if gofakeit.Bool() {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		days = append(days, week[gofakeit.Number(0, len(week)-1)])
	}
	return days
}
