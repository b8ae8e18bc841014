package dashboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/practice-dashboard/internal/practice"
	"github.com/hackgods/practice-dashboard/internal/session"
)

type MetricsSource interface {
	CountAppointmentsOn(ctx context.Context, practitionerID uuid.UUID, day string) (int, error)
	CountDistinctPatients(ctx context.Context, practitionerID uuid.UUID) (int, error)
	CountReviews(ctx context.Context, practitionerID uuid.UUID, status practice.ReviewStatus) (int, error)
	AverageRating(ctx context.Context, practitionerID uuid.UUID) (float64, error)
}

// MetricsAggregator computes Stats from four independent queries. A failing
// query contributes its zero value instead of failing the whole aggregate.
type MetricsAggregator struct {
	src     MetricsSource
	cal     calendar
	timeout time.Duration
	logger  *slog.Logger
}

func newMetricsAggregator(src MetricsSource, cal calendar, timeout time.Duration, logger *slog.Logger) *MetricsAggregator {
	return &MetricsAggregator{
		src:     src,
		cal:     cal,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "metrics")),
	}
}

// Aggregate returns ok=false without querying when the session has no
// practitioner.
func (m *MetricsAggregator) Aggregate(ctx context.Context, sess session.Context) (Stats, bool) {
	if !sess.HasPractitioner() {
		return Stats{}, false
	}
	id := sess.PractitionerID
	today := m.cal.today()

	var stats Stats
	var g errgroup.Group

	g.Go(func() error {
		stats.TodayAppointments = m.intQuery(ctx, id, "today_appointments", func(ctx context.Context) (int, error) {
			return m.src.CountAppointmentsOn(ctx, id, today)
		})
		return nil
	})
	g.Go(func() error {
		stats.TotalPatients = m.intQuery(ctx, id, "total_patients", func(ctx context.Context) (int, error) {
			return m.src.CountDistinctPatients(ctx, id)
		})
		return nil
	})
	g.Go(func() error {
		stats.ReviewCount = m.intQuery(ctx, id, "review_count", func(ctx context.Context) (int, error) {
			return m.src.CountReviews(ctx, id, practice.ReviewApproved)
		})
		return nil
	})
	g.Go(func() error {
		qctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		avg, err := m.src.AverageRating(qctx, id)
		if err != nil {
			m.logFailure(id, "avg_rating", err)
			return nil
		}
		stats.AvgRating = avg
		return nil
	})

	// Each goroutine writes a distinct field; Wait orders those writes before the read.
	_ = g.Wait()
	return stats, true
}

func (m *MetricsAggregator) intQuery(ctx context.Context, id uuid.UUID, name string, fn func(context.Context) (int, error)) int {
	qctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	n, err := fn(qctx)
	if err != nil {
		m.logFailure(id, name, err)
		return 0
	}
	return n
}

func (m *MetricsAggregator) logFailure(id uuid.UUID, metric string, err error) {
	m.logger.Warn("metric query failed, using zero",
		slog.String("practitioner_id", id.String()),
		slog.String("metric", metric),
		slog.Any("error", err),
	)
}
