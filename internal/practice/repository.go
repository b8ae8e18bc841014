package practice

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidStatus = errors.New("invalid status")
)

// Repository contains the read queries the dashboard needs.
type Repository interface {
	// Metrics
	CountAppointmentsOn(ctx context.Context, practitionerID uuid.UUID, day string) (int, error)
	CountDistinctPatients(ctx context.Context, practitionerID uuid.UUID) (int, error)
	CountReviews(ctx context.Context, practitionerID uuid.UUID, status ReviewStatus) (int, error)
	AverageRating(ctx context.Context, practitionerID uuid.UUID) (float64, error)

	// Schedule
	ListAppointmentsOn(ctx context.Context, practitionerID uuid.UUID, day string) ([]Appointment, error)
	ListPatientsByIDs(ctx context.Context, ids []uuid.UUID) ([]Patient, error)

	// Locations
	ListChambers(ctx context.Context, practitionerID uuid.UUID) ([]Chamber, error)

	GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
}
