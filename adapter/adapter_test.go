package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/csp/adapter/memory"
	"github.com/c360/csp/edge"
	"github.com/c360/csp/scheduler"
	"github.com/c360/csp/value"
)

func newTestEdge(id string) *edge.Buffer {
	return edge.NewBuffer(edge.ID(id), value.Type{Kind: value.KindInt64}, 4, nil)
}

// blockingPush is a Push adapter whose Start blocks until ctx is canceled,
// giving the test a handle (via the returned sink) to push ticks on demand.
type blockingPush struct {
	sinkCh chan Sink
}

func (p *blockingPush) Start(ctx context.Context, sink Sink) error {
	p.sinkCh <- sink
	<-ctx.Done()
	return ctx.Err()
}
func (p *blockingPush) Stop() error { return nil }

func TestManagerClampsLateTickByDefault(t *testing.T) {
	m := NewManager(nil, nil)
	e := newTestEdge("a")
	push := &blockingPush{sinkCh: make(chan Sink, 1)}
	m.RegisterPush("p1", e, PolicyClamp, RateLimit{}, push)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	sink := <-push.sinkCh

	m.SetNow(100)
	require.NoError(t, sink.PushTick(50, value.Int64(1)))

	ticks := m.DrainPending()
	require.Len(t, ticks, 1)
	require.Equal(t, edge.Time(100), ticks[0].Time)
}

func TestManagerDropsLateTickWhenPolicyDrop(t *testing.T) {
	m := NewManager(nil, nil)
	e := newTestEdge("a")
	push := &blockingPush{sinkCh: make(chan Sink, 1)}
	m.RegisterPush("p1", e, PolicyDrop, RateLimit{}, push)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	sink := <-push.sinkCh

	m.SetNow(100)
	require.Error(t, sink.PushTick(50, value.Int64(1)))
	require.Empty(t, m.DrainPending())
}

// TestManagerDropsTickOverRateLimitWhenPolicyDrop confirms a push adapter
// registered with a rate limit and PolicyDrop sheds ticks past its burst
// instead of blocking the adapter's own goroutine, matching the
// per-adapter choice to either block or drop under backpressure.
func TestManagerDropsTickOverRateLimitWhenPolicyDrop(t *testing.T) {
	m := NewManager(nil, nil)
	e := newTestEdge("a")
	push := &blockingPush{sinkCh: make(chan Sink, 1)}
	m.RegisterPush("p1", e, PolicyDrop, RateLimit{Rate: 1, Burst: 1}, push)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	sink := <-push.sinkCh

	m.SetNow(0)
	require.NoError(t, sink.PushTick(0, value.Int64(1)))
	require.Error(t, sink.PushTick(0, value.Int64(2)))

	ticks := m.DrainPending()
	require.Len(t, ticks, 1)
}

type blockingPushPull struct {
	sinkCh chan ReplaySink
}

func (p *blockingPushPull) Start(ctx context.Context, sink ReplaySink) error {
	p.sinkCh <- sink
	<-ctx.Done()
	return ctx.Err()
}
func (p *blockingPushPull) Stop() error { return nil }

func TestPushPullRejectsLiveTickAtOrBeforeLastReplayTime(t *testing.T) {
	m := NewManager(nil, nil)
	e := newTestEdge("a")
	pp := &blockingPushPull{sinkCh: make(chan ReplaySink, 1)}
	m.RegisterPushPull("pp1", e, pp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	sink := <-pp.sinkCh

	require.NoError(t, sink.PushTick(10, value.Int64(1)))
	require.NoError(t, sink.PushTick(20, value.Int64(2)))
	require.NoError(t, sink.FlagReplayComplete())
	require.Error(t, sink.FlagReplayComplete())

	require.Error(t, sink.PushTickLive(20, value.Int64(3)))
	require.NoError(t, sink.PushTickLive(30, value.Int64(4)))

	ticks := m.DrainPending()
	require.Len(t, ticks, 3)
	require.Equal(t, edge.Time(30), ticks[2].Time)
}

func TestDrainPullExhaustsAndSchedulesInOrder(t *testing.T) {
	m := NewManager(nil, nil)
	e := newTestEdge("a")
	src := memory.NewSource([]memory.Tick{
		{Time: 5, Value: value.Int64(1)},
		{Time: 9, Value: value.Int64(2)},
	})
	m.RegisterPull("mem", e, src)

	cycle := scheduler.NewCycle(nil, nil, nil, nil)
	require.NoError(t, m.DrainPull(context.Background(), cycle))

	peek, ok := cycle.PeekTime()
	require.True(t, ok)
	require.Equal(t, scheduler.Time(5), peek)
	require.Equal(t, 2, cycle.QueueLen())
}
