package dashboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/practice-dashboard/internal/practice"
	"github.com/hackgods/practice-dashboard/internal/session"
)

type ScheduleSource interface {
	ListAppointmentsOn(ctx context.Context, practitionerID uuid.UUID, day string) ([]practice.Appointment, error)
	ListPatientsByIDs(ctx context.Context, ids []uuid.UUID) ([]practice.Patient, error)
}

// ScheduleFetcher loads today's appointments in time order and attaches
// patient identities with a single batch lookup.
type ScheduleFetcher struct {
	src     ScheduleSource
	cal     calendar
	timeout time.Duration
	logger  *slog.Logger
}

func newScheduleFetcher(src ScheduleSource, cal calendar, timeout time.Duration, logger *slog.Logger) *ScheduleFetcher {
	return &ScheduleFetcher{
		src:     src,
		cal:     cal,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "schedule")),
	}
}

// Fetch never returns nil on ok=true. Appointments whose patient cannot be
// found are kept with a nil Patient.
func (f *ScheduleFetcher) Fetch(ctx context.Context, sess session.Context) ([]practice.Appointment, bool) {
	if !sess.HasPractitioner() {
		return nil, false
	}
	id := sess.PractitionerID

	listCtx, cancel := context.WithTimeout(ctx, f.timeout)
	appts, err := f.src.ListAppointmentsOn(listCtx, id, f.cal.today())
	cancel()
	if err != nil {
		f.logger.Warn("list today's appointments failed",
			slog.String("practitioner_id", id.String()),
			slog.Any("error", err),
		)
		return []practice.Appointment{}, true
	}
	if len(appts) == 0 {
		return []practice.Appointment{}, true
	}

	patientIDs := distinctPatientIDs(appts)

	enrichCtx, cancel := context.WithTimeout(ctx, f.timeout)
	patients, err := f.src.ListPatientsByIDs(enrichCtx, patientIDs)
	cancel()
	if err != nil {
		f.logger.Warn("patient enrichment failed, returning bare appointments",
			slog.String("practitioner_id", id.String()),
			slog.Int("patients", len(patientIDs)),
			slog.Any("error", err),
		)
		return appts, true
	}

	byID := make(map[uuid.UUID]*practice.Patient, len(patients))
	for i := range patients {
		byID[patients[i].ID] = &patients[i]
	}

	out := make([]practice.Appointment, len(appts))
	for i, a := range appts {
		a.Patient = byID[a.PatientID]
		out[i] = a
	}
	return out, true
}

func distinctPatientIDs(appts []practice.Appointment) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(appts))
	ids := make([]uuid.UUID, 0, len(appts))
	for _, a := range appts {
		if _, ok := seen[a.PatientID]; ok {
			continue
		}
		seen[a.PatientID] = struct{}{}
		ids = append(ids, a.PatientID)
	}
	return ids
}
