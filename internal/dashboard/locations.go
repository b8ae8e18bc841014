package dashboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practice-dashboard/internal/practice"
	"github.com/hackgods/practice-dashboard/internal/session"
)

type ChamberSource interface {
	ListChambers(ctx context.Context, practitionerID uuid.UUID) ([]practice.Chamber, error)
}

// LocationFetcher returns all of a practitioner's chambers, oldest first.
type LocationFetcher struct {
	src     ChamberSource
	timeout time.Duration
	logger  *slog.Logger
}

func newLocationFetcher(src ChamberSource, timeout time.Duration, logger *slog.Logger) *LocationFetcher {
	return &LocationFetcher{
		src:     src,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "locations")),
	}
}

func (f *LocationFetcher) Fetch(ctx context.Context, sess session.Context) ([]practice.Chamber, bool) {
	if !sess.HasPractitioner() {
		return nil, false
	}

	qctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	chambers, err := f.src.ListChambers(qctx, sess.PractitionerID)
	if err != nil {
		f.logger.Warn("list chambers failed",
			slog.String("practitioner_id", sess.PractitionerID.String()),
			slog.Any("error", err),
		)
		return []practice.Chamber{}, true
	}
	if chambers == nil {
		chambers = []practice.Chamber{}
	}
	return chambers, true
}
