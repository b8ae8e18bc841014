// Package dashboard keeps a practitioner's live practice dashboard fresh:
// stats, today's schedule and chambers, refreshed on change-feed events and
// on a fallback polling timer.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/practice-dashboard/internal/changefeed"
	"github.com/hackgods/practice-dashboard/internal/practice"
	"github.com/hackgods/practice-dashboard/internal/session"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultQueryTimeout = 10 * time.Second

	observerBuffer = 8
)

var ErrClosed = errors.New("dashboard closed")

type Options struct {
	PollInterval time.Duration
	QueryTimeout time.Duration
	// Location decides the calendar day used for "today".
	Location *time.Location
	Clock    clockwork.Clock
	Logger   *slog.Logger

	// Called on the listener goroutine before the refresh the event triggers.
	// They must not call Close or SetSession.
	OnNewAppointment    func(practice.Appointment)
	OnAppointmentUpdate func(practice.Appointment)
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Dashboard is the only type the display layer talks to.
//
// Refreshes may overlap (poll tick, change events, explicit calls). Each one
// takes a ticket from a monotonic counter when it starts and its result is
// committed only if nothing with a newer ticket has been committed already,
// so an old refresh finishing late never overwrites newer data. Stats and
// lists have separate counters because metrics-only refreshes exist. A
// practitioner change or Close bumps the epoch, which discards everything
// still in flight.
type Dashboard struct {
	feed   changefeed.Feed
	opts   Options
	logger *slog.Logger

	metrics   *MetricsAggregator
	schedule  *ScheduleFetcher
	locations *LocationFetcher

	// lifeMu serializes SetSession and Close.
	lifeMu    sync.Mutex
	runCancel context.CancelFunc
	listener  *Listener
	poller    *Poller

	mu             sync.RWMutex
	sess           session.Context
	epoch          uint64
	runCtx         context.Context
	state          State
	loading        int
	statsIssued    uint64
	statsCommitted uint64
	listsIssued    uint64
	listsCommitted uint64
	closed         bool
	observers      map[int]chan Update
	nextObserver   int
}

// New builds a dashboard for sess. When sess carries a practitioner the
// initial refresh runs before New returns and the listener and poller are
// armed.
func New(ctx context.Context, repo practice.Repository, feed changefeed.Feed, sess session.Context, opts Options) *Dashboard {
	opts = opts.withDefaults()
	cal := calendar{clock: opts.Clock, loc: opts.Location}

	d := &Dashboard{
		feed:      feed,
		opts:      opts,
		logger:    opts.Logger.With(slog.String("component", "dashboard")),
		metrics:   newMetricsAggregator(repo, cal, opts.QueryTimeout, opts.Logger),
		schedule:  newScheduleFetcher(repo, cal, opts.QueryTimeout, opts.Logger),
		locations: newLocationFetcher(repo, opts.QueryTimeout, opts.Logger),
		state:     emptyState(uuid.Nil),
		observers: make(map[int]chan Update),
	}

	_ = d.SetSession(ctx, sess)
	return d
}

// State returns the current best-known state.
func (d *Dashboard) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

func (d *Dashboard) Session() session.Context {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sess
}

// Subscribe registers an observer. The channel receives an Update after every
// change; when the observer falls behind the oldest pending update is dropped.
// The returned function unsubscribes and closes the channel.
func (d *Dashboard) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, observerBuffer)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := d.nextObserver
	d.nextObserver++
	d.observers[id] = ch
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			if c, ok := d.observers[id]; ok {
				delete(d.observers, id)
				close(c)
			}
		})
	}
}

// SetSession switches the dashboard to another practitioner. The previous
// practitioner's subscriptions and timer are torn down before anything for
// the new one is set up. A session without practitioner leaves the
// dashboard idle.
func (d *Dashboard) SetSession(ctx context.Context, sess session.Context) error {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.runCancel != nil && sess.PractitionerID == d.sess.PractitionerID {
		d.sess = sess
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	d.teardown()

	d.mu.Lock()
	d.sess = sess
	d.state = emptyState(sess.PractitionerID)
	d.publishLocked(nil)
	d.mu.Unlock()

	if !sess.HasPractitioner() {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.runCtx = runCtx
	d.mu.Unlock()
	d.runCancel = cancel

	d.logger.Info("dashboard armed", slog.String("practitioner_id", sess.PractitionerID.String()))

	d.Refresh(ctx)

	d.listener = NewListener(d.feed, sess, d, d.opts.Logger)
	if err := d.listener.Start(runCtx); err != nil {
		d.logger.Warn("change feed unavailable, relying on polling",
			slog.String("practitioner_id", sess.PractitionerID.String()),
			slog.Any("error", err),
		)
	}

	d.poller = NewPoller(d.opts.Clock, d.opts.PollInterval, d.Refresh)
	d.poller.Start(runCtx)

	return nil
}

// Close tears the dashboard down. Afterwards no query runs, no state changes
// and observer channels are closed.
func (d *Dashboard) Close() {
	d.lifeMu.Lock()
	defer d.lifeMu.Unlock()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.teardown()

	d.mu.Lock()
	for id, ch := range d.observers {
		delete(d.observers, id)
		close(ch)
	}
	d.mu.Unlock()
}

// teardown must be called with lifeMu held.
func (d *Dashboard) teardown() {
	d.mu.Lock()
	d.epoch++
	d.loading = 0
	d.runCtx = nil
	d.mu.Unlock()

	if d.runCancel != nil {
		d.runCancel()
		d.runCancel = nil
	}
	if d.listener != nil {
		d.listener.Stop()
		d.listener = nil
	}
	if d.poller != nil {
		d.poller.Stop()
		d.poller = nil
	}
}

// ticket is what a refresh captures when it starts.
type ticket struct {
	sess   session.Context
	epoch  uint64
	runCtx context.Context
	stats  uint64
	lists  uint64
}

// Refresh re-runs metrics, schedule and locations concurrently and commits
// them together. It is a no-op without a practitioner or after Close.
func (d *Dashboard) Refresh(ctx context.Context) {
	t, ok := d.begin(true)
	if !ok {
		return
	}
	ctx, cancel := bind(ctx, t.runCtx)
	defer cancel()

	var (
		stats    Stats
		appts    []practice.Appointment
		chambers []practice.Chamber
	)

	var g errgroup.Group
	g.Go(func() error {
		stats, _ = d.metrics.Aggregate(ctx, t.sess)
		return nil
	})
	g.Go(func() error {
		appts, _ = d.schedule.Fetch(ctx, t.sess)
		return nil
	})
	g.Go(func() error {
		chambers, _ = d.locations.Fetch(ctx, t.sess)
		return nil
	})
	_ = g.Wait()

	d.commit(t, stats, appts, chambers, true)
}

// RefreshMetrics re-runs only the metrics aggregator.
func (d *Dashboard) RefreshMetrics(ctx context.Context) {
	t, ok := d.begin(false)
	if !ok {
		return
	}
	ctx, cancel := bind(ctx, t.runCtx)
	defer cancel()

	stats, _ := d.metrics.Aggregate(ctx, t.sess)
	d.commit(t, stats, nil, nil, false)
}

func (d *Dashboard) begin(full bool) (ticket, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || !d.sess.HasPractitioner() || d.runCtx == nil {
		return ticket{}, false
	}

	d.statsIssued++
	t := ticket{
		sess:   d.sess,
		epoch:  d.epoch,
		runCtx: d.runCtx,
		stats:  d.statsIssued,
	}
	if full {
		d.listsIssued++
		t.lists = d.listsIssued
	}

	d.loading++
	if d.loading == 1 {
		d.publishLocked(nil)
	}
	return t, true
}

func (d *Dashboard) commit(t ticket, stats Stats, appts []practice.Appointment, chambers []practice.Chamber, full bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || t.epoch != d.epoch {
		return
	}

	d.loading--
	changed := false

	if t.stats > d.statsCommitted {
		d.state.Stats = stats
		d.statsCommitted = t.stats
		changed = true
	}
	if full && t.lists > d.listsCommitted {
		d.state.TodayAppointments = appts
		d.state.Chambers = chambers
		d.listsCommitted = t.lists
		changed = true
	}
	if changed {
		d.state.LastUpdated = d.opts.Clock.Now()
	} else {
		d.logger.Debug("discarding stale refresh",
			slog.String("practitioner_id", t.sess.PractitionerID.String()),
			slog.Uint64("stats_ticket", t.stats),
			slog.Uint64("lists_ticket", t.lists),
		)
	}

	if changed || d.loading == 0 {
		d.publishLocked(nil)
	}
}

func (d *Dashboard) snapshotLocked() State {
	s := d.state
	s.IsLoading = d.loading > 0
	return s
}

func (d *Dashboard) publishLocked(n *Notice) {
	u := Update{State: d.snapshotLocked(), Notice: n}
	for _, ch := range d.observers {
		select {
		case ch <- u:
			continue
		default:
		}
		// Full: drop the oldest update and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- u:
		default:
		}
	}
}

// notify reports whether the notice was published. Events for a practitioner
// the dashboard no longer shows are ignored.
func (d *Dashboard) notify(practitionerID uuid.UUID, n Notice) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || practitionerID != d.sess.PractitionerID {
		return false
	}
	d.publishLocked(&n)
	return true
}

// ChangeHandler implementation.

func (d *Dashboard) AppointmentInserted(ctx context.Context, appt practice.Appointment) {
	ok := d.notify(appt.PractitionerID, Notice{
		Kind:        NoticeNewAppointment,
		Message:     fmt.Sprintf("New appointment on %s at %s", appt.Date, appt.Time),
		Appointment: &appt,
	})
	if !ok {
		return
	}
	if d.opts.OnNewAppointment != nil {
		d.opts.OnNewAppointment(appt)
	}
	d.Refresh(ctx)
}

func (d *Dashboard) AppointmentUpdated(ctx context.Context, appt practice.Appointment) {
	ok := d.notify(appt.PractitionerID, Notice{
		Kind:        NoticeAppointmentUpdated,
		Message:     fmt.Sprintf("Appointment on %s at %s is now %s", appt.Date, appt.Time, appt.Status),
		Appointment: &appt,
	})
	if !ok {
		return
	}
	if d.opts.OnAppointmentUpdate != nil {
		d.opts.OnAppointmentUpdate(appt)
	}
	d.Refresh(ctx)
}

func (d *Dashboard) ReviewInserted(ctx context.Context, review practice.Review) {
	ok := d.notify(review.PractitionerID, Notice{
		Kind:    NoticeNewReview,
		Message: fmt.Sprintf("New %d-star review received", review.Rating),
		Review:  &review,
	})
	if !ok {
		return
	}
	d.RefreshMetrics(ctx)
}

// bind returns a context that ends when either ctx or run ends.
func bind(ctx context.Context, run context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(run, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
