package changefeed

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryFeed is an in-process feed. Publish blocks until every current
// subscriber of the channel has accepted the event or closed.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[*memorySubscription]struct{})}
}

func (f *MemoryFeed) Subscribe(ctx context.Context, topic Topic, practitionerID uuid.UUID) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch := Channel(topic, practitionerID)
	sub := &memorySubscription{
		feed:    f,
		channel: ch,
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if f.subs[ch] == nil {
		f.subs[ch] = make(map[*memorySubscription]struct{})
	}
	f.subs[ch][sub] = struct{}{}
	return sub, nil
}

func (f *MemoryFeed) Publish(ctx context.Context, topic Topic, practitionerID uuid.UUID, ev Event) error {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*memorySubscription, 0, len(f.subs[Channel(topic, practitionerID)]))
	for s := range f.subs[Channel(topic, practitionerID)] {
		targets = append(targets, s)
	}
	f.mu.RUnlock()

	for _, s := range targets {
		if err := s.deliver(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Subscribers returns the number of open subscriptions on a channel.
func (f *MemoryFeed) Subscribers(topic Topic, practitionerID uuid.UUID) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[Channel(topic, practitionerID)])
}

// Close ends every subscription.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	var all []*memorySubscription
	for _, set := range f.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	f.mu.Unlock()

	for _, s := range all {
		_ = s.Close()
	}
	return nil
}

func (f *MemoryFeed) remove(s *memorySubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if set, ok := f.subs[s.channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(f.subs, s.channel)
		}
	}
}

type memorySubscription struct {
	feed    *MemoryFeed
	channel string
	events  chan Event
	done    chan struct{}

	// senders hold mu for reading; Close takes it for writing before
	// closing events so no send can race the close.
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func (s *memorySubscription) Events() <-chan Event { return s.events }

func (s *memorySubscription) deliver(ctx context.Context, ev Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.feed.remove(s)

		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
	return nil
}
