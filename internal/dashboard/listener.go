package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hackgods/practice-dashboard/internal/changefeed"
	"github.com/hackgods/practice-dashboard/internal/practice"
	"github.com/hackgods/practice-dashboard/internal/session"
)

// ChangeHandler receives decoded change events. Calls for one topic arrive
// in feed order on a single goroutine; the two topics are not ordered
// relative to each other.
type ChangeHandler interface {
	AppointmentInserted(ctx context.Context, appt practice.Appointment)
	AppointmentUpdated(ctx context.Context, appt practice.Appointment)
	ReviewInserted(ctx context.Context, review practice.Review)
}

// Listener holds the appointment and review subscriptions of one practitioner.
type Listener struct {
	feed    changefeed.Feed
	sess    session.Context
	handler ChangeHandler
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	subs   []changefeed.Subscription
	wg     sync.WaitGroup
}

func NewListener(feed changefeed.Feed, sess session.Context, handler ChangeHandler, logger *slog.Logger) *Listener {
	return &Listener{
		feed:    feed,
		sess:    sess,
		handler: handler,
		logger: logger.With(
			slog.String("component", "listener"),
			slog.String("practitioner_id", sess.PractitionerID.String()),
		),
	}
}

// Start subscribes to both topics. Either both subscriptions are live
// afterwards or none is.
func (l *Listener) Start(ctx context.Context) error {
	if !l.sess.HasPractitioner() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return nil
	}

	topics := []changefeed.Topic{changefeed.TopicAppointments, changefeed.TopicReviews}
	subs := make([]changefeed.Subscription, 0, len(topics))
	for _, topic := range topics {
		sub, err := l.feed.Subscribe(ctx, topic, l.sess.PractitionerID)
		if err != nil {
			for _, s := range subs {
				_ = s.Close()
			}
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.subs = subs

	for i, sub := range subs {
		l.wg.Add(1)
		go l.consume(runCtx, topics[i], sub)
	}
	return nil
}

// Stop closes both subscriptions and waits until no handler is running.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, subs := l.cancel, l.subs
	l.cancel, l.subs = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	for _, s := range subs {
		if err := s.Close(); err != nil {
			l.logger.Warn("close subscription", slog.Any("error", err))
		}
	}
	l.wg.Wait()
}

func (l *Listener) consume(ctx context.Context, topic changefeed.Topic, sub changefeed.Subscription) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if ctx.Err() == nil {
					l.logger.Warn("subscription ended, relying on polling", slog.String("topic", string(topic)))
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			if err := l.dispatch(ctx, topic, ev); err != nil {
				l.logger.Warn("dropping change event",
					slog.String("topic", string(topic)),
					slog.String("type", string(ev.Type)),
					slog.Any("error", err),
				)
			}
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, topic changefeed.Topic, ev changefeed.Event) error {
	switch topic {
	case changefeed.TopicAppointments:
		if ev.Type != changefeed.EventInsert && ev.Type != changefeed.EventUpdate {
			return nil
		}
		var appt practice.Appointment
		if err := json.Unmarshal(ev.Record, &appt); err != nil {
			return fmt.Errorf("decode appointment: %w", err)
		}
		if ev.Type == changefeed.EventInsert {
			l.handler.AppointmentInserted(ctx, appt)
		} else {
			l.handler.AppointmentUpdated(ctx, appt)
		}

	case changefeed.TopicReviews:
		if ev.Type != changefeed.EventInsert {
			return nil
		}
		var review practice.Review
		if err := json.Unmarshal(ev.Record, &review); err != nil {
			return fmt.Errorf("decode review: %w", err)
		}
		l.handler.ReviewInserted(ctx, review)
	}
	return nil
}
