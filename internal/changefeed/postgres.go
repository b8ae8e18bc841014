package changefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgEventBuffer bounds how far a subscriber may fall behind before
// notifications for it are dropped. The shared connection never waits on a
// slow subscriber.
const pgEventBuffer = 64

// PgFeed listens to the pg_notify channels raised by the
// notify_practitioner_change trigger. All subscriptions share one connection
// taken out of the pool on first use: every (topic, practitioner) channel is
// LISTENed on it and notifications are fanned out by channel name. The
// connection is re-established with exponential backoff when it drops, and
// every channel still subscribed is listened again.
type PgFeed struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	maxBackoff time.Duration

	mu        sync.Mutex
	subs      map[string]map[*pgSubscription]struct{}
	ops       []listenOp
	interrupt context.CancelFunc
	running   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
}

type listenOp struct {
	channel string
	listen  bool
	// result is nil for UNLISTEN, which nobody waits on.
	result chan error
}

func NewPgFeed(pool *pgxpool.Pool, logger *slog.Logger) *PgFeed {
	return &PgFeed{
		pool:       pool,
		logger:     logger.With(slog.String("component", "pg-feed")),
		maxBackoff: 30 * time.Second,
		subs:       make(map[string]map[*pgSubscription]struct{}),
		done:       make(chan struct{}),
	}
}

// Subscribe returns once the channel is LISTENed on the shared connection.
func (f *PgFeed) Subscribe(ctx context.Context, topic Topic, practitionerID uuid.UUID) (Subscription, error) {
	channel := Channel(topic, practitionerID)
	sub := &pgSubscription{
		feed:    f,
		channel: channel,
		events:  make(chan Event, pgEventBuffer),
	}
	result := make(chan error, 1)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	if f.subs[channel] == nil {
		f.subs[channel] = make(map[*pgSubscription]struct{})
	}
	f.subs[channel][sub] = struct{}{}
	f.enqueueLocked(listenOp{channel: channel, listen: true, result: result})
	if !f.running {
		f.running = true
		runCtx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		go f.run(runCtx)
	}
	f.mu.Unlock()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	case <-f.done:
		err = ErrClosed
	}
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}
	return sub, nil
}

// Close ends every subscription and releases the listen connection.
func (f *PgFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	for _, subs := range f.subs {
		for sub := range subs {
			sub.closeLocked()
		}
	}
	f.subs = make(map[string]map[*pgSubscription]struct{})
	running, cancel := f.running, f.cancel
	f.mu.Unlock()

	if running {
		cancel()
		<-f.done
	} else {
		close(f.done)
	}
	return nil
}

// enqueueLocked queues op and wakes the loop if it is waiting for
// notifications.
func (f *PgFeed) enqueueLocked(op listenOp) {
	f.ops = append(f.ops, op)
	if f.interrupt != nil {
		f.interrupt()
	}
}

func (f *PgFeed) remove(sub *pgSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs, ok := f.subs[sub.channel]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	sub.closeLocked()
	if len(subs) == 0 {
		delete(f.subs, sub.channel)
		if !f.closed {
			f.enqueueLocked(listenOp{channel: sub.channel})
		}
	}
}

func (f *PgFeed) run(ctx context.Context) {
	defer close(f.done)

	var conn *pgx.Conn
	listening := make(map[string]bool)
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
		f.failPending(ErrClosed)
	}()

	for {
		if conn == nil {
			c, channels, err := f.reconnect(ctx)
			if err != nil {
				return
			}
			conn = c
			listening = channels
		}

		if err := f.applyOps(ctx, conn, listening); err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("listen connection lost", slog.Any("error", err))
			_ = conn.Close(context.Background())
			conn = nil
			continue
		}

		waitCtx, waitCancel := context.WithCancel(ctx)
		f.mu.Lock()
		if len(f.ops) > 0 {
			f.mu.Unlock()
			waitCancel()
			continue
		}
		f.interrupt = waitCancel
		f.mu.Unlock()

		n, err := conn.WaitForNotification(waitCtx)

		f.mu.Lock()
		f.interrupt = nil
		f.mu.Unlock()
		interrupted := waitCtx.Err() != nil
		waitCancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if interrupted && !conn.IsClosed() {
				continue
			}
			f.logger.Warn("listen connection lost", slog.Any("error", err))
			_ = conn.Close(context.Background())
			conn = nil
			continue
		}

		f.dispatch(n)
	}
}

// applyOps runs queued LISTEN/UNLISTEN commands in order. A connection
// failure is returned after failing the op that hit it.
func (f *PgFeed) applyOps(ctx context.Context, conn *pgx.Conn, listening map[string]bool) error {
	for {
		f.mu.Lock()
		if len(f.ops) == 0 {
			f.mu.Unlock()
			return nil
		}
		op := f.ops[0]
		f.ops = f.ops[1:]
		stillWanted := len(f.subs[op.channel]) > 0
		f.mu.Unlock()

		switch {
		case op.listen && listening[op.channel]:
			op.result <- nil
		case op.listen:
			_, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{op.channel}.Sanitize())
			op.result <- err
			if err != nil {
				if conn.IsClosed() {
					return err
				}
				continue
			}
			listening[op.channel] = true
		case listening[op.channel] && !stillWanted:
			if _, err := conn.Exec(ctx, "UNLISTEN "+pgx.Identifier{op.channel}.Sanitize()); err != nil {
				if conn.IsClosed() {
					return err
				}
				f.logger.Warn("unlisten failed", slog.String("channel", op.channel), slog.Any("error", err))
				continue
			}
			delete(listening, op.channel)
		}
	}
}

// reconnect takes a connection out of the pool and listens on every
// subscribed channel, retrying with backoff until ctx ends. Each failed
// attempt fails the subscribes waiting on it, so callers can fall back
// instead of blocking on an unreachable database.
func (f *PgFeed) reconnect(ctx context.Context) (*pgx.Conn, map[string]bool, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = f.maxBackoff
	b.MaxElapsedTime = 0

	var (
		conn      *pgx.Conn
		listening map[string]bool
		attempts  int
	)
	op := func() error {
		attempts++
		c, channels, err := f.connect(ctx)
		if err != nil {
			return err
		}
		conn, listening = c, channels
		return nil
	}
	notify := func(err error, wait time.Duration) {
		f.logger.Warn("listen connect failed", slog.Duration("retry_in", wait), slog.Any("error", err))
		f.failPending(err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return nil, nil, err
	}
	if attempts > 1 || len(listening) > 0 {
		f.logger.Info("listen connection established", slog.Int("channels", len(listening)))
	}
	return conn, listening, nil
}

func (f *PgFeed) connect(ctx context.Context) (*pgx.Conn, map[string]bool, error) {
	pooled, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire listen conn: %w", err)
	}
	conn := pooled.Hijack()

	f.mu.Lock()
	channels := make([]string, 0, len(f.subs))
	for ch := range f.subs {
		channels = append(channels, ch)
	}
	f.mu.Unlock()

	listening := make(map[string]bool, len(channels))
	for _, ch := range channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			_ = conn.Close(context.Background())
			return nil, nil, fmt.Errorf("listen %s: %w", ch, err)
		}
		listening[ch] = true
	}
	return conn, listening, nil
}

// failPending answers every queued LISTEN with err. UNLISTENs are dropped;
// a new connection only listens on channels that still have subscribers.
func (f *PgFeed) failPending(err error) {
	f.mu.Lock()
	ops := f.ops
	f.ops = nil
	f.mu.Unlock()

	for _, op := range ops {
		if op.result != nil {
			op.result <- err
		}
	}
}

func (f *PgFeed) dispatch(n *pgconn.Notification) {
	ev, err := DecodeEvent([]byte(n.Payload))
	if err != nil {
		f.logger.Warn("dropping undecodable notification", slog.String("channel", n.Channel), slog.Any("error", err))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[n.Channel] {
		select {
		case sub.events <- ev:
		default:
			f.logger.Warn("subscriber is behind, dropping notification", slog.String("channel", n.Channel))
		}
	}
}

type pgSubscription struct {
	feed    *PgFeed
	channel string
	events  chan Event
	// closed is guarded by feed.mu.
	closed bool
}

func (s *pgSubscription) Events() <-chan Event { return s.events }

func (s *pgSubscription) Close() error {
	s.feed.remove(s)
	return nil
}

func (s *pgSubscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
