// Package engine composes scheduler.Cycle, alarm.Facility, dynamic.Manager,
// and adapter.Manager into the running graph process: it builds the
// node.Runtime every node's Context delegates to, drives the cycle loop
// either in lockstep with the event queue (simulation mode) or against the
// wall clock (real-time mode), and exposes the Start/Run/Stop lifecycle a
// command-line entry point drives.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/csp/adapter"
	"github.com/c360/csp/alarm"
	"github.com/c360/csp/dynamic"
	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/health"
	"github.com/c360/csp/metric"
	"github.com/c360/csp/node"
	"github.com/c360/csp/scheduler"
	"github.com/c360/csp/topology"
)

// realtimePollInterval bounds how long the real-time loop ever sleeps
// without rechecking for a stop request or newly arrived adapter work, when
// the event queue is empty and nothing else would wake it.
const realtimePollInterval = 200 * time.Millisecond

// Mode selects which clock drives the cycle loop.
type Mode int

const (
	// ModeRealtime maps engine time to wall-clock nanoseconds and sleeps
	// between events.
	ModeRealtime Mode = iota
	// ModeSimulation drains the event queue as fast as it can be processed,
	// with no wall-clock sleeping.
	ModeSimulation
)

// String renders the mode name used in logs.
func (m Mode) String() string {
	switch m {
	case ModeRealtime:
		return "realtime"
	case ModeSimulation:
		return "simulation"
	default:
		return "unknown"
	}
}

// Config configures a new Engine. Graph, Mode, Metrics, and Logger are
// required by cspctl's build path; StartTime and EndTime are optional,
// and their zero value means "wall-clock now" (realtime) or "time zero"
// (simulation) and "unbounded", respectively.
type Config struct {
	Graph   *topology.Graph
	Mode    Mode
	Metrics *metric.MetricsRegistry
	Logger  *slog.Logger

	// StartTime, if set, is converted to engine time via UnixNano. In
	// ModeRealtime an unset StartTime defaults to time.Now(); in
	// ModeSimulation it defaults to engine time zero.
	StartTime time.Time
	// EndTime, if set, is converted to engine time via UnixNano and the
	// engine stops once the cycle loop reaches it. Unset means run until
	// the event queue drains (simulation) or Stop is called (realtime).
	EndTime time.Time
}

// Engine owns one running graph: the scheduler.Cycle driving it, the
// alarm.Facility and dynamic.Manager that complete its node.Runtime, the
// adapter.Manager bridging external sources and sinks, and the health
// bookkeeping a monitoring endpoint would read.
type Engine struct {
	cfg     Config
	graph   *topology.Graph
	mode    Mode
	logger  *slog.Logger
	metrics *metric.Metrics

	// runID uniquely identifies this Engine's lifetime, for correlating
	// every log line a single Start/Run/Stop cycle produces; the same
	// purpose a BaseMessage's id serves for one message's lifetime.
	runID string

	cycle    *scheduler.Cycle
	alarms   *alarm.Facility
	dyn      *dynamic.Manager
	adapters *adapter.Manager
	health   *health.Monitor

	startTime  edge.Time
	endTime    edge.Time
	hasEndTime bool

	adapterCtx    context.Context
	adapterCancel context.CancelFunc

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneOnce sync.Once
	doneCh   chan struct{}
}

// New constructs an Engine from cfg. It performs no I/O and cannot fail;
// graph construction errors surface from Start instead, matching cspctl's
// own build-phase/run-phase error split.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var metrics *metric.Metrics
	if cfg.Metrics != nil {
		metrics = cfg.Metrics.CoreMetrics()
	}
	return &Engine{
		cfg:     cfg,
		graph:   cfg.Graph,
		mode:    cfg.Mode,
		logger:  logger,
		metrics: metrics,
		runID:   uuid.New().String(),
		health:  health.NewMonitor(),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start builds the running graph: the Cycle, the composite node.Runtime,
// every declared adapter, and runs each node's OnStart hook at the
// resolved start time. It must be called exactly once, before Run.
func (e *Engine) Start(ctx context.Context) error {
	if e.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "engine", "Start", "engine lifecycle")
	}
	e.started = true

	e.startTime = e.resolveStartTime()
	if t, ok := e.resolveEndTime(); ok {
		e.endTime, e.hasEndTime = t, true
	}

	e.cycle = scheduler.NewCycle(e.graph.Nodes(), e.graph.FeedbackEdges(), e.metrics, e.logger)
	e.alarms = alarm.NewFacility(e.cycle, e.metrics)
	e.dyn = dynamic.NewManager(e.cycle, e.alarms, e.graph.Registry(), e.graph.SubGraphs(), e.metrics, e.logger)
	e.adapters = adapter.NewManager(e.metrics, e.logger)
	e.cycle.BindRuntime(newRuntime(e.cycle, e.alarms, e.dyn))

	if err := buildAdapters(e.graph.Adapters(), e.graph, e.adapters, e.metrics, e.logger); err != nil {
		return errors.Wrap(err, "engine", "Start", "wiring declared adapters")
	}

	e.cycle.BeginCycle(e.startTime)
	if err := e.adapters.DrainPull(ctx, e.cycle); err != nil {
		return errors.Wrap(err, "engine", "Start", "draining pull adapters")
	}
	if err := e.cycle.RunStartHooks(); err != nil {
		return errors.WrapFatal(err, "engine", "Start", "running node start hooks")
	}
	if e.hasEndTime {
		e.cycle.PushControl(e.endTime)
	}

	e.adapterCtx, e.adapterCancel = context.WithCancel(context.Background())
	e.adapters.Start(e.adapterCtx)

	e.refreshHealth()
	e.logger.Info("engine started", "run_id", e.runID, "mode", e.mode, "nodes", len(e.graph.Nodes()), "start_time", int64(e.startTime))
	return nil
}

// Run drives the cycle loop until the graph stops itself (simulation mode
// exhausting its event queue, or EndTime being reached), Stop is called, or
// ctx is canceled. It always runs the shutdown sequence (node OnStop
// hooks, then adapter teardown) before returning, so Run's caller never
// needs to call Stop just to clean up a naturally-completed run.
func (e *Engine) Run(ctx context.Context) error {
	defer e.doneOnce.Do(func() { close(e.doneCh) })

	var err error
	if e.mode == ModeSimulation {
		err = e.runSimulation(ctx)
	} else {
		err = e.runRealtime(ctx)
	}

	if shutdownErr := e.shutdown(); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}

// Stop requests the run loop to stop at the next opportunity. The control
// event it injects lands after every event already queued at the current
// engine time, so the current cycle always finishes propagating before the
// run loop exits, and blocks until Run's shutdown sequence has finished or
// ctx expires. Stop is safe to call from any goroutine and is idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.stopCh) })
	select {
	case <-e.doneCh:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "engine", "Stop", "waiting for run loop to finish")
	}
}

// Health reports the aggregate health of every node currently live in the
// graph, refreshed once per completed cycle.
func (e *Engine) Health() health.Status {
	return e.health.AggregateHealth("engine")
}

// RunID returns the identifier generated for this Engine's lifetime, for
// correlating its log lines across Start/Run/Stop.
func (e *Engine) RunID() string {
	return e.runID
}

func (e *Engine) shutdown() error {
	var firstErr error
	if e.cycle != nil {
		if err := e.cycle.RunStopHooks(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.adapters != nil {
		if err := e.adapters.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
		if e.adapterCancel != nil {
			e.adapterCancel()
		}
		if err := e.adapters.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.refreshHealth()
	e.logger.Info("engine stopped", "run_id", e.runID)
	return firstErr
}

// runSimulation drains the event queue as fast as it is produced, with no
// wall-clock sleeping: a deterministic, reproducible replay mode.
func (e *Engine) runSimulation(ctx context.Context) error {
	stopRequested := false
	for {
		e.drainAdapterTicks()
		if !stopRequested && e.shouldStop(ctx) {
			stopRequested = true
			e.cycle.PushControl(e.cycle.Now())
		}

		advanced, stopped, err := e.cycle.Advance()
		if err != nil {
			return errors.WrapFatal(err, "engine", "runSimulation", "advancing cycle")
		}
		if err := e.dyn.FlushTeardowns(); err != nil {
			return errors.WrapFatal(err, "engine", "runSimulation", "flushing sub-graph teardowns")
		}
		e.refreshHealth()

		if stopped || !advanced {
			return nil
		}
	}
}

// runRealtime maps engine time to wall-clock Unix nanoseconds (the
// convention resolveStartTime establishes) and sleeps between events,
// waking early on a stop request or a newly arrived push-adapter tick.
func (e *Engine) runRealtime(ctx context.Context) error {
	stopRequested := false
	for {
		e.drainAdapterTicks()
		if !stopRequested && e.shouldStop(ctx) {
			stopRequested = true
			e.cycle.PushControl(e.cycle.Now())
		}

		peekT, hasNext := e.cycle.PeekTime()
		if !hasNext {
			e.sleep(ctx, realtimePollInterval)
			continue
		}
		if d := time.Until(wallClock(peekT)); d > 0 {
			e.sleep(ctx, d)
			continue
		}

		_, stopped, err := e.cycle.Advance()
		if err != nil {
			return errors.WrapFatal(err, "engine", "runRealtime", "advancing cycle")
		}
		if err := e.dyn.FlushTeardowns(); err != nil {
			return errors.WrapFatal(err, "engine", "runRealtime", "flushing sub-graph teardowns")
		}
		e.refreshHealth()

		if stopped {
			return nil
		}
	}
}

// drainAdapterTicks moves every tick a push or push-pull adapter has queued
// since the last drain onto the cycle's event queue, at the adapter's own
// reported time. Called at the top of every loop iteration in both modes,
// since a push adapter can deliver in simulation mode too.
func (e *Engine) drainAdapterTicks() {
	e.adapters.SetNow(e.cycle.Now())
	for _, pt := range e.adapters.DrainPending() {
		e.cycle.Schedule(pt.Time, pt.Target, pt.Value, scheduler.KindAdapterPush)
	}
}

// sleep blocks the calling goroutine for up to d, waking early if a push
// adapter signals pending work or the engine is asked to stop. It reuses
// adapter.Manager.Wake's cond-variable crossing as the sleep primitive
// itself, rather than a bare time.Sleep, so real-time mode never waits
// longer than necessary for a live tick.
func (e *Engine) sleep(parent context.Context, d time.Duration) {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-e.stopCh:
			cancel()
		case <-done:
		}
	}()

	e.adapters.Wake(ctx)
}

// shouldStop reports whether Stop has been called or ctx has been canceled,
// without blocking.
func (e *Engine) shouldStop(ctx context.Context) bool {
	select {
	case <-e.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// refreshHealth snapshots every currently live node's lifecycle state into
// the health monitor and, when metrics are wired, the node-health gauge.
func (e *Engine) refreshHealth() {
	now := time.Now()
	for _, inst := range e.cycle.Nodes() {
		running := inst.State() == node.StateStarted
		var uptime time.Duration
		if running && !inst.StartedAt().IsZero() {
			uptime = now.Sub(inst.StartedAt())
		}
		status := health.FromNodeState(string(inst.ID()), running, inst.State().String(),
			uptime, inst.FireCount(), inst.LastFireAt(), inst.ErrorCount(), inst.LastError())
		e.health.Update(string(inst.ID()), status)
		if e.metrics != nil {
			e.metrics.RecordNodeHealth(string(inst.ID()), running)
		}
	}
}

// resolveStartTime converts Config.StartTime to engine time, defaulting to
// wall-clock now in ModeRealtime (establishing the convention that engine
// time equals Unix nanoseconds for the rest of the run) or zero in
// ModeSimulation.
func (e *Engine) resolveStartTime() edge.Time {
	if !e.cfg.StartTime.IsZero() {
		return edge.Time(e.cfg.StartTime.UnixNano())
	}
	if e.mode == ModeRealtime {
		return edge.Time(time.Now().UnixNano())
	}
	return 0
}

// resolveEndTime converts Config.EndTime to engine time. ok is false when
// EndTime was never set, meaning the run is unbounded.
func (e *Engine) resolveEndTime() (edge.Time, bool) {
	if e.cfg.EndTime.IsZero() {
		return 0, false
	}
	return edge.Time(e.cfg.EndTime.UnixNano()), true
}

// wallClock renders engine time t back to a wall-clock instant, the inverse
// of resolveStartTime's realtime convention.
func wallClock(t edge.Time) time.Time {
	return time.Unix(0, int64(t))
}
