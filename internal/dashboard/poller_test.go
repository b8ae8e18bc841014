package dashboard

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoller_TicksOnInterval(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	var ticks atomic.Int32
	p := NewPoller(clock, 30*time.Second, func(context.Context) { ticks.Add(1) })

	p.Start(context.Background())
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(29 * time.Second)
	assert.Never(t, func() bool { return ticks.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return ticks.Load() == 1 }, time.Second, 5*time.Millisecond)

	clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return ticks.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestPoller_StopRemovesTicker(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	var ticks atomic.Int32
	p := NewPoller(clock, time.Second, func(context.Context) { ticks.Add(1) })

	p.Start(context.Background())
	p.Start(context.Background())
	p.Stop()
	p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 0))

	clock.Advance(time.Minute)
	assert.Equal(t, int32(0), ticks.Load())
}

func TestPoller_StopWaitsForRunningTick(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	entered := make(chan struct{})
	var finished atomic.Bool
	p := NewPoller(clock, time.Second, func(ctx context.Context) {
		close(entered)
		<-ctx.Done()
		finished.Store(true)
	})

	p.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)
	<-entered

	p.Stop()
	assert.True(t, finished.Load())
}
