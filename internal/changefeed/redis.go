package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisFeed uses one pub/sub channel per (topic, practitioner). go-redis
// resubscribes on reconnect; messages published while disconnected are lost,
// which the dashboard's polling fallback covers.
type RedisFeed struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisFeed(client *redis.Client, logger *slog.Logger) *RedisFeed {
	return &RedisFeed{
		client: client,
		logger: logger.With(slog.String("component", "redis-feed")),
	}
}

func (f *RedisFeed) Subscribe(ctx context.Context, topic Topic, practitionerID uuid.UUID) (Subscription, error) {
	channel := Channel(topic, practitionerID)

	ps := f.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so errors surface here.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		ps:     ps,
		events: make(chan Event, 16),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: f.logger.With(slog.String("channel", channel)),
	}
	go sub.run(runCtx)

	return sub, nil
}

func (f *RedisFeed) Publish(ctx context.Context, topic Topic, practitionerID uuid.UUID, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := f.client.Publish(ctx, Channel(topic, practitionerID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

type redisSubscription struct {
	ps     *redis.PubSub
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (s *redisSubscription) Events() <-chan Event { return s.events }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		<-s.done
		err = s.ps.Close()
	})
	return err
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.done)
	defer close(s.events)

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			ev, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				s.logger.Warn("dropping undecodable message", slog.Any("error", err))
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
