package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Poller runs fn every interval until stopped. It bounds staleness when the
// change feed silently drops.
type Poller struct {
	clock    clockwork.Clock
	interval time.Duration
	fn       func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(clock clockwork.Clock, interval time.Duration, fn func(ctx context.Context)) *Poller {
	return &Poller{clock: clock, interval: interval, fn: fn}
}

func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	ticker := p.clock.NewTicker(p.interval)
	go p.run(runCtx, ticker, p.done)
}

// Stop cancels the ticker and waits for an in-progress tick to return.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller) run(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			p.fn(ctx)
		}
	}
}
