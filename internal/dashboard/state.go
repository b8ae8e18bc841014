package dashboard

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/hackgods/practice-dashboard/internal/practice"
)

// Stats are the scalar dashboard figures. They are always replaced as a
// whole, never field by field.
type Stats struct {
	TodayAppointments int     `json:"todayAppointments"`
	TotalPatients     int     `json:"totalPatients"`
	AvgRating         float64 `json:"avgRating"`
	ReviewCount       int     `json:"reviewCount"`
}

// State is what the display layer sees. Slices are shared between copies and
// must be treated as read-only.
type State struct {
	PractitionerID    uuid.UUID              `json:"practitionerId"`
	Stats             Stats                  `json:"stats"`
	TodayAppointments []practice.Appointment `json:"todayAppointments"`
	Chambers          []practice.Chamber     `json:"chambers"`
	IsLoading         bool                   `json:"isLoading"`
	LastUpdated       time.Time              `json:"lastUpdated"`
}

func emptyState(practitionerID uuid.UUID) State {
	return State{
		PractitionerID:    practitionerID,
		TodayAppointments: []practice.Appointment{},
		Chambers:          []practice.Chamber{},
	}
}

type NoticeKind string

const (
	NoticeNewAppointment     NoticeKind = "new_appointment"
	NoticeAppointmentUpdated NoticeKind = "appointment_updated"
	NoticeNewReview          NoticeKind = "new_review"
)

// Notice is a transient message for the display layer, e.g. a toast.
type Notice struct {
	Kind        NoticeKind            `json:"kind"`
	Message     string                `json:"message"`
	Appointment *practice.Appointment `json:"appointment,omitempty"`
	Review      *practice.Review      `json:"review,omitempty"`
}

// Update is delivered to observers after every state change and every notice.
type Update struct {
	State  State   `json:"state"`
	Notice *Notice `json:"notice,omitempty"`
}

// calendar decides what "today" is for the date filters.
type calendar struct {
	clock clockwork.Clock
	loc   *time.Location
}

func (c calendar) today() string {
	return practice.DateKey(c.clock.Now().In(c.loc))
}
