package practice

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) String() string { return string(s) }

func (s AppointmentStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ParseAppointmentStatus rejects anything outside the four known states.
func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	st := AppointmentStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: appointment status %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s *AppointmentStatus) UnmarshalText(b []byte) error {
	st, err := ParseAppointmentStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

func (s ReviewStatus) String() string { return string(s) }

func (s ReviewStatus) IsValid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected:
		return true
	}
	return false
}

func ParseReviewStatus(s string) (ReviewStatus, error) {
	st := ReviewStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("%w: review status %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s *ReviewStatus) UnmarshalText(b []byte) error {
	st, err := ParseReviewStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

type Practitioner struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Specialty *string   `json:"specialty,omitempty"`
}

type Patient struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
}

// Appointment carries Date as YYYY-MM-DD and Time as HH:MM so that rows and
// change-feed payloads compare as plain strings.
type Appointment struct {
	ID             uuid.UUID         `json:"id"`
	PractitionerID uuid.UUID         `json:"practitioner_id"`
	PatientID      uuid.UUID         `json:"patient_id"`
	Date           string            `json:"appointment_date"`
	Time           string            `json:"appointment_time"`
	Status         AppointmentStatus `json:"status"`
	Reason         *string           `json:"reason,omitempty"`

	Patient *Patient `json:"patient,omitempty"`
}

type Chamber struct {
	ID             uuid.UUID `json:"id"`
	PractitionerID uuid.UUID `json:"practitioner_id"`
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	Timing         *string   `json:"timing,omitempty"`
	Days           []string  `json:"days,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Review struct {
	ID             uuid.UUID    `json:"id"`
	PractitionerID uuid.UUID    `json:"practitioner_id"`
	PatientID      *uuid.UUID   `json:"patient_id,omitempty"`
	Rating         int          `json:"rating"`
	Status         ReviewStatus `json:"status"`
}

// DateKey formats t as the calendar date used in the appointments table.
func DateKey(t time.Time) string {
	return t.Format(time.DateOnly)
}
