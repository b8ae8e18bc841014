package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hackgods/practice-dashboard/internal/changefeed"
	"github.com/hackgods/practice-dashboard/internal/practice"
	"github.com/hackgods/practice-dashboard/internal/session"
)

// Registry shares one Dashboard per practitioner between concurrent viewers.
// A dashboard is closed when its last viewer releases it.
type Registry struct {
	repo   practice.Repository
	feed   changefeed.Feed
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	closed  bool
}

// entry is published before its dashboard exists; dash may be read only
// after ready is closed.
type entry struct {
	dash  *Dashboard
	refs  int
	ready chan struct{}
}

func NewRegistry(repo practice.Repository, feed changefeed.Feed, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		repo:    repo,
		feed:    feed,
		opts:    opts,
		logger:  opts.Logger.With(slog.String("component", "registry")),
		entries: make(map[uuid.UUID]*entry),
	}
}

// Acquire returns the practitioner's dashboard, creating it on first use.
// The release function must be called exactly once; extra calls are ignored.
// Opening one practitioner's dashboard never blocks access to another's.
func (r *Registry) Acquire(ctx context.Context, practitionerID uuid.UUID) (*Dashboard, func(), error) {
	if e, ok := r.tryShare(practitionerID); ok {
		return r.await(ctx, practitionerID, e)
	}

	if _, err := r.repo.GetPractitionerByID(ctx, practitionerID); err != nil {
		return nil, nil, fmt.Errorf("lookup practitioner: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if e, ok := r.entries[practitionerID]; ok {
		e.refs++
		r.mu.Unlock()
		return r.await(ctx, practitionerID, e)
	}
	e := &entry{refs: 1, ready: make(chan struct{})}
	r.entries[practitionerID] = e
	r.mu.Unlock()

	// Viewers arriving meanwhile hold a ref and wait on ready.
	e.dash = New(ctx, r.repo, r.feed, session.ForPractitioner(practitionerID), r.opts)
	close(e.ready)

	r.logger.Info("dashboard opened", slog.String("practitioner_id", practitionerID.String()))
	return r.checkOpen(practitionerID, e)
}

// tryShare takes a reference on an existing entry, ready or not.
func (r *Registry) tryShare(practitionerID uuid.UUID) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[practitionerID]
	if !ok || r.closed {
		return nil, false
	}
	e.refs++
	return e, true
}

// await waits for an entry opened by another caller. The reference taken
// for it is dropped if ctx ends first.
func (r *Registry) await(ctx context.Context, practitionerID uuid.UUID, e *entry) (*Dashboard, func(), error) {
	select {
	case <-e.ready:
		return r.checkOpen(practitionerID, e)
	case <-ctx.Done():
		r.releaser(practitionerID, e)()
		return nil, nil, ctx.Err()
	}
}

func (r *Registry) checkOpen(practitionerID uuid.UUID, e *entry) (*Dashboard, func(), error) {
	release := r.releaser(practitionerID, e)

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		release()
		return nil, nil, ErrClosed
	}
	return e.dash, release, nil
}

func (r *Registry) releaser(practitionerID uuid.UUID, e *entry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			e.refs--
			last := e.refs == 0 && r.entries[practitionerID] == e
			if last {
				delete(r.entries, practitionerID)
			}
			r.mu.Unlock()

			if last {
				<-e.ready
				e.dash.Close()
				r.logger.Info("dashboard closed", slog.String("practitioner_id", practitionerID.String()))
			}
		})
	}
}

// Len returns the number of open dashboards.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every dashboard regardless of outstanding references.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[uuid.UUID]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		e.dash.Close()
	}
}
