// Package session carries the authenticated caller explicitly instead of
// reading an ambient "current session".
package session

import (
	"context"

	"github.com/google/uuid"
)

type Role string

const (
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
	RolePatient Role = "patient"
)

// Context identifies whose dashboard is being built. A zero PractitionerID
// means no practitioner is available yet.
type Context struct {
	UserID         uuid.UUID
	PractitionerID uuid.UUID
	Role           Role
}

// ForPractitioner is the session used by tools that act on behalf of a doctor.
func ForPractitioner(id uuid.UUID) Context {
	return Context{PractitionerID: id, Role: RoleDoctor}
}

func (c Context) HasPractitioner() bool { return c.PractitionerID != uuid.Nil }

// CanView reports whether the caller may watch the given practitioner's dashboard.
func (c Context) CanView(practitionerID uuid.UUID) bool {
	if c.Role == RoleAdmin {
		return true
	}
	return c.HasPractitioner() && c.PractitionerID == practitionerID
}

type ctxKey struct{}

func WithContext(ctx context.Context, s Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Context, bool) {
	s, ok := ctx.Value(ctxKey{}).(Context)
	return s, ok
}
