// Package changefeed delivers row-level insert/update/delete notifications
// for one entity stream of one practitioner. Filtering happens at the source:
// every (topic, practitioner) pair is its own channel, so a subscriber never
// receives another practitioner's rows.
package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Topic string

const (
	TopicAppointments Topic = "appointments"
	TopicReviews      Topic = "reviews"
)

type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventInsert, EventUpdate, EventDelete:
		return true
	}
	return false
}

var (
	ErrInvalidEvent = errors.New("invalid change event")
	ErrClosed       = errors.New("feed closed")
)

// Event is one change notification. Record holds the row as JSON.
type Event struct {
	Type   EventType       `json:"type"`
	Record json.RawMessage `json:"record"`
}

// Subscription is a live stream of events. Events is closed once the
// subscription ends; Close is idempotent and waits for delivery to stop.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

type Feed interface {
	Subscribe(ctx context.Context, topic Topic, practitionerID uuid.UUID) (Subscription, error)
}

// Publisher is implemented by feeds that accept events from application code.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, practitionerID uuid.UUID, ev Event) error
}

// Channel is the wire name of a (topic, practitioner) stream. It matches the
// channel used by the notify_practitioner_change trigger.
func Channel(topic Topic, practitionerID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", topic, practitionerID)
}

func NewEvent(typ EventType, record any) (Event, error) {
	if !typ.IsValid() {
		return Event{}, fmt.Errorf("%w: type %q", ErrInvalidEvent, typ)
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return Event{}, fmt.Errorf("marshal record: %w", err)
	}
	return Event{Type: typ, Record: raw}, nil
}

// DecodeEvent parses a wire payload of the form {"type": ..., "record": {...}}.
func DecodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if !ev.Type.IsValid() {
		return Event{}, fmt.Errorf("%w: type %q", ErrInvalidEvent, ev.Type)
	}
	if len(ev.Record) == 0 {
		return Event{}, fmt.Errorf("%w: missing record", ErrInvalidEvent)
	}
	return ev, nil
}
