// Package adapter bridges external sources and sinks into the scheduler.
// It implements the three adapter contracts (pull, push, and push-pull)
// and a Manager that crosses adapter-owned goroutines into the engine
// thread through a single mutex and condition variable, exactly as a
// real-time engine's cycle loop expects to be woken.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/metric"
	"github.com/c360/csp/scheduler"
	"github.com/c360/csp/value"
)

// LatePolicy governs what happens to a pushed tick whose time is behind
// the engine's current clock.
type LatePolicy int

const (
	// PolicyClamp rewrites a late tick's time to engine_now. This is the
	// default policy.
	PolicyClamp LatePolicy = iota
	// PolicyDrop discards a late tick and reports it as a transient error.
	PolicyDrop
)

// Pull is a historical source polled synchronously at build/start. Next
// returns false once exhausted; t must be non-decreasing across calls.
type Pull interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (t edge.Time, v value.Value, hasMore bool, err error)
	Close() error
}

// Sink is the callback surface a Push adapter uses to deliver live ticks.
type Sink interface {
	PushTick(t edge.Time, v value.Value) error
}

// ReplaySink is the callback surface a PushPull adapter uses: PushTick for
// the historical replay phase, FlagReplayComplete exactly once when replay
// ends, then PushTickLive for every tick afterward.
type ReplaySink interface {
	PushTick(t edge.Time, v value.Value) error
	FlagReplayComplete() error
	PushTickLive(t edge.Time, v value.Value) error
}

// Push is a live source running on its own goroutine.
type Push interface {
	Start(ctx context.Context, sink Sink) error
	Stop() error
}

// PushPull is a hybrid source: historical replay through ReplaySink.PushTick,
// then a live phase through ReplaySink.PushTickLive after it calls
// FlagReplayComplete exactly once.
type PushPull interface {
	Start(ctx context.Context, sink ReplaySink) error
	Stop() error
}

// PendingTick is one tick a push or push-pull adapter queued for delivery,
// returned by Manager.DrainPending for the engine to schedule.
type PendingTick struct {
	Target *edge.Buffer
	Time   edge.Time
	Value  value.Value
}

// RateLimit bounds how fast a push adapter may deliver ticks, backing the
// per-adapter backpressure policy of either blocking or dropping excess
// ticks. Rate <= 0 means unlimited; no token bucket is created and
// PushTick never waits or drops on its account.
type RateLimit struct {
	// Rate is the sustained ticks-per-second limit.
	Rate float64
	// Burst is the token bucket's burst size. A zero Burst with a positive
	// Rate is floored to 1, since rate.Limiter rejects every event with a
	// burst of zero.
	Burst int
}

type pushBinding struct {
	id      string
	target  *edge.Buffer
	policy  LatePolicy
	limiter *rate.Limiter
	adapter Push
}

type pushPullBinding struct {
	id      string
	target  *edge.Buffer
	adapter PushPull

	// guarded by Manager.mu
	lastReplay  edge.Time
	replayDone  bool
}

type pullBinding struct {
	id      string
	target  *edge.Buffer
	adapter Pull
}

// Manager owns every adapter binding for one graph, drives pull adapters to
// exhaustion at start, runs push/push-pull adapters under an errgroup, and
// exposes the single lock+condvar crossing the engine's cycle loop drains
// at the top of every iteration.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond
	now  edge.Time

	pending []PendingTick

	pulls     []*pullBinding
	pushes    []*pushBinding
	pushPulls []*pushPullBinding

	group    *errgroup.Group
	groupCtx context.Context

	metrics *metric.Metrics
	logger  *slog.Logger
}

// NewManager constructs an empty Manager. metrics and logger may be nil.
func NewManager(metrics *metric.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{metrics: metrics, logger: logger}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// RegisterPull binds a Pull adapter to an edge.
func (m *Manager) RegisterPull(id string, target *edge.Buffer, p Pull) {
	m.pulls = append(m.pulls, &pullBinding{id: id, target: target, adapter: p})
}

// RegisterPush binds a Push adapter to an edge with a late-tick policy and
// an optional rate limit. A zero-value limit is unlimited.
func (m *Manager) RegisterPush(id string, target *edge.Buffer, policy LatePolicy, limit RateLimit, p Push) {
	b := &pushBinding{id: id, target: target, policy: policy, adapter: p}
	if limit.Rate > 0 {
		burst := limit.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(limit.Rate), burst)
	}
	m.pushes = append(m.pushes, b)
}

// RegisterPushPull binds a PushPull adapter to an edge.
func (m *Manager) RegisterPushPull(id string, target *edge.Buffer, p PushPull) {
	m.pushPulls = append(m.pushPulls, &pushPullBinding{id: id, target: target, adapter: p})
}

// DrainPull exhausts every registered Pull adapter, scheduling each emitted
// tick directly into cycle at its own declared time. Called once at start,
// since a historical source is polled to exhaustion at build/start rather
// than driven by the running cycle loop.
func (m *Manager) DrainPull(ctx context.Context, cycle *scheduler.Cycle) error {
	for _, b := range m.pulls {
		if err := b.adapter.Open(ctx); err != nil {
			return errors.WrapInvalid(err, "adapter", b.id, "opening pull adapter")
		}
		var lastT edge.Time
		first := true
		for {
			t, v, more, err := b.adapter.Next(ctx)
			if err != nil {
				_ = b.adapter.Close()
				return errors.WrapFatal(err, "adapter", b.id, "reading pull adapter")
			}
			if !more {
				break
			}
			if !first && t < lastT {
				_ = b.adapter.Close()
				return errors.WrapFatal(errors.ErrAdapterSource, "adapter", b.id,
					fmt.Sprintf("pull adapter emitted non-monotonic time %d after %d", t, lastT))
			}
			first, lastT = false, t
			cycle.Schedule(t, b.target, v, scheduler.KindAdapterPush)
			if m.metrics != nil {
				m.metrics.RecordEdgeOccupancy(string(b.target.ID()), b.target.Size(), b.target.Capacity())
			}
		}
		if err := b.adapter.Close(); err != nil {
			return errors.WrapTransient(err, "adapter", b.id, "closing pull adapter")
		}
	}
	return nil
}

// Start launches every push and push-pull adapter on its own goroutine,
// supervised by an errgroup so a fatal adapter error surfaces through Wait
// instead of being silently dropped.
func (m *Manager) Start(ctx context.Context) {
	m.group, m.groupCtx = errgroup.WithContext(ctx)
	for _, b := range m.pushes {
		b := b
		m.group.Go(func() error {
			return b.adapter.Start(m.groupCtx, &pushSink{m: m, b: b})
		})
	}
	for _, b := range m.pushPulls {
		b := b
		m.group.Go(func() error {
			return b.adapter.Start(m.groupCtx, &replaySink{m: m, b: b})
		})
	}
}

// Wait blocks until every push/push-pull adapter goroutine has exited,
// returning the first error any of them returned.
func (m *Manager) Wait() error {
	if m.group == nil {
		return nil
	}
	return m.group.Wait()
}

// Stop requests every push and push-pull adapter to stop. It does not wait
// for their goroutines to exit; call Wait for that.
func (m *Manager) Stop() error {
	var firstErr error
	for _, b := range m.pushes {
		if err := b.adapter.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, b := range m.pushPulls {
		if err := b.adapter.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
	return firstErr
}

// SetNow records the engine's current cycle time, read by push adapters to
// decide whether an incoming tick is late. Called by the engine at the top
// of every cycle, before DrainPending.
func (m *Manager) SetNow(t edge.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// DrainPending removes and returns every tick queued by push/push-pull
// adapters since the last drain, under the single crossing lock.
func (m *Manager) DrainPending() []PendingTick {
	m.mu.Lock()
	defer m.mu.Unlock()
	ticks := m.pending
	m.pending = nil
	return ticks
}

// Wake blocks the calling goroutine (the engine's cycle loop, in real-time
// mode) until a push adapter signals new pending work or ctx is done.
func (m *Manager) Wake(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	m.mu.Lock()
	for len(m.pending) == 0 && ctx.Err() == nil {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

// pushSink is the Sink given to each Push adapter.
type pushSink struct {
	m *Manager
	b *pushBinding
}

func (s *pushSink) PushTick(t edge.Time, v value.Value) error {
	m, b := s.m, s.b
	if b.limiter != nil {
		if b.policy == PolicyDrop {
			if !b.limiter.Allow() {
				if m.metrics != nil {
					m.metrics.RecordTickDropped(b.id)
				}
				return errors.WrapTransient(errors.ErrRateLimited, "adapter", b.id,
					"tick rate exceeded limit, dropped")
			}
		} else {
			waitCtx := m.groupCtx
			if waitCtx == nil {
				waitCtx = context.Background()
			}
			if err := b.limiter.Wait(waitCtx); err != nil {
				return errors.WrapTransient(err, "adapter", b.id, "waiting for rate limiter")
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	effective := t
	if t < m.now {
		switch s.b.policy {
		case PolicyDrop:
			if m.metrics != nil {
				m.metrics.RecordTickDropped(s.b.id)
			}
			return errors.WrapTransient(errors.ErrLateTick, "adapter", s.b.id,
				fmt.Sprintf("tick at %d before engine_now %d dropped", t, m.now))
		default:
			effective = m.now
			if m.metrics != nil {
				m.metrics.RecordTickClamped(s.b.id)
			}
		}
	}
	m.pending = append(m.pending, PendingTick{Target: s.b.target, Time: effective, Value: v})
	m.cond.Broadcast()
	return nil
}

// replaySink is the ReplaySink given to each PushPull adapter.
type replaySink struct {
	m *Manager
	b *pushPullBinding
}

func (s *replaySink) PushTick(t edge.Time, v value.Value) error {
	m, b := s.m, s.b
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.replayDone {
		return errors.WrapInvalid(errors.ErrAdapterSource, "adapter", b.id,
			"PushTick called after FlagReplayComplete; use PushTickLive")
	}
	if t < b.lastReplay {
		return errors.WrapFatal(errors.ErrAdapterSource, "adapter", b.id,
			fmt.Sprintf("replay tick at %d is not monotonic after %d", t, b.lastReplay))
	}
	b.lastReplay = t
	m.pending = append(m.pending, PendingTick{Target: b.target, Time: t, Value: v})
	m.cond.Broadcast()
	return nil
}

func (s *replaySink) FlagReplayComplete() error {
	m, b := s.m, s.b
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.replayDone {
		return errors.WrapInvalid(errors.ErrAdapterSource, "adapter", b.id,
			"FlagReplayComplete called more than once")
	}
	b.replayDone = true
	return nil
}

func (s *replaySink) PushTickLive(t edge.Time, v value.Value) error {
	m, b := s.m, s.b
	m.mu.Lock()
	defer m.mu.Unlock()

	if !b.replayDone {
		return errors.WrapInvalid(errors.ErrAdapterSource, "adapter", b.id,
			"PushTickLive called before FlagReplayComplete")
	}
	if t <= b.lastReplay {
		if m.metrics != nil {
			m.metrics.RecordError("invalid")
		}
		return errors.WrapInvalid(errors.ErrLateAfterReplay, "adapter", b.id,
			fmt.Sprintf("live tick at %d at or before last replay time %d", t, b.lastReplay))
	}
	b.lastReplay = t
	m.pending = append(m.pending, PendingTick{Target: b.target, Time: t, Value: v})
	m.cond.Broadcast()
	return nil
}
