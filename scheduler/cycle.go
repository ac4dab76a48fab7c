// Package scheduler implements the engine's discrete-event core: a
// min-heap priority queue of pending writes ordered by (time, rank, seq),
// and the Cycle driver that, for each distinct engine time, applies every
// pending write and fires every node that write reaches, in rank order,
// exactly once per node per time.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/metric"
	"github.com/c360/csp/node"
	"github.com/c360/csp/value"
)

// Time is engine time, shared verbatim with the edge package's definition
// so a scheduled Event's timestamp and a buffer's sample timestamp are the
// same type without conversion.
type Time = edge.Time

// maxFeedbackPasses bounds the feedback-queue drain loop so a pathological
// feedback chain that keeps re-triggering itself within one engine time
// cannot spin the engine forever; exceeding it is an invariant violation.
const maxFeedbackPasses = 1024

// Cycle drives the discrete-event cycle loop over a fixed set of node
// instances: it owns the priority Queue, the edge->consumer index built
// from every instance's declared subscriptions, and the current engine
// time. Cycle implements the Now/Emit half of node.Runtime directly; the
// ScheduleAlarm/CancelAlarm/InstantiateSubGraph/TeardownSubGraph half is
// implemented by the engine package, which composes a Cycle with an
// alarm.Facility and a dynamic.Manager, keeping scheduler from importing
// either.
type Cycle struct {
	queue *Queue

	nodes       map[node.ID]*node.Instance
	sortedNodes []*node.Instance // ascending rank, for Start/Stop

	consumers         map[edge.ID][]*node.Instance
	feedbackConsumers map[edge.ID][]*node.Instance

	now Time
	rt  node.Runtime

	pendingByRank   map[int][]*node.Instance
	feedbackPending map[int][]*node.Instance
	fired           map[node.ID]bool
	queued          map[node.ID]bool
	maxRank         int

	metrics *metric.Metrics
	logger  *slog.Logger
}

// NewCycle builds a Cycle over nodes, whose ranks and subscriptions must
// already be finalized (by topology.Build or dynamic.Manager). feedback
// marks the edge IDs whose delivery to their consumers is deferred to a
// secondary same-time pass rather than scheduled directly.
func NewCycle(nodes []*node.Instance, feedback map[edge.ID]bool, metrics *metric.Metrics, logger *slog.Logger) *Cycle {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cycle{
		nodes:             make(map[node.ID]*node.Instance, len(nodes)),
		consumers:         make(map[edge.ID][]*node.Instance),
		feedbackConsumers: make(map[edge.ID][]*node.Instance),
		metrics:           metrics,
		logger:            logger,
	}
	var onDepth func(int)
	if metrics != nil {
		onDepth = metrics.RecordQueueDepth
	}
	c.queue = NewQueue(onDepth)

	for _, inst := range nodes {
		c.indexNode(inst, feedback)
	}
	c.sortedNodes = sortByRank(nodes)
	return c
}

// indexNode registers inst's ID and wires each of its input subscriptions
// into the consumer index, so a future write to that edge knows to
// schedule inst.
func (c *Cycle) indexNode(inst *node.Instance, feedback map[edge.ID]bool) {
	c.nodes[inst.ID()] = inst
	for _, sub := range inst.Inputs() {
		id := sub.Edge.ID()
		if feedback[id] {
			c.feedbackConsumers[id] = append(c.feedbackConsumers[id], inst)
		} else {
			c.consumers[id] = append(c.consumers[id], inst)
		}
	}
}

func sortByRank(nodes []*node.Instance) []*node.Instance {
	out := make([]*node.Instance, len(nodes))
	copy(out, nodes)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Rank() > out[j].Rank(); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// AddNodes wires a freshly built set of node instances into a running
// Cycle's consumer index and rank-ordered node list, for dynamic sub-graph
// instantiation. Callers (dynamic.Manager) are responsible for assigning
// ranks above every rank already in play before calling this; AddNodes
// itself does no rank arithmetic. It touches only the node and consumer
// indexes and the rank-ordered node list, none of the per-cycle
// bookkeeping (fired, queued, pendingByRank); dynamic.Manager calls it
// mid-cycle, from inside the instantiator's OnFire.
func (c *Cycle) AddNodes(nodes []*node.Instance, feedback map[edge.ID]bool) {
	for _, inst := range nodes {
		c.indexNode(inst, feedback)
	}
	c.sortedNodes = mergeByRank(c.sortedNodes, nodes)
}

// RemoveNodes unwires a previously added set of nodes, dropping them from
// the node index, the consumer/feedbackConsumer indexes, and the sorted
// node list, for dynamic sub-graph teardown. Unlike AddNodes, it must be
// called between cycles; RunStopHooks should be run on the departing nodes
// first so OnStop still observes their edges wired.
func (c *Cycle) RemoveNodes(ids []node.ID) {
	if len(ids) == 0 {
		return
	}
	gone := make(map[node.ID]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
		delete(c.nodes, id)
	}
	for eid, insts := range c.consumers {
		c.consumers[eid] = filterInstances(insts, gone)
	}
	for eid, insts := range c.feedbackConsumers {
		c.feedbackConsumers[eid] = filterInstances(insts, gone)
	}
	c.sortedNodes = filterInstances(c.sortedNodes, gone)
}

func filterInstances(insts []*node.Instance, gone map[node.ID]bool) []*node.Instance {
	if len(insts) == 0 {
		return insts
	}
	out := insts[:0:0]
	for _, inst := range insts {
		if !gone[inst.ID()] {
			out = append(out, inst)
		}
	}
	return out
}

// mergeByRank returns existing with added appended, ordered ascending by
// rank; a plain insertion sort, since added is expected to be small
// relative to existing.
func mergeByRank(existing, added []*node.Instance) []*node.Instance {
	out := append(append([]*node.Instance{}, existing...), added...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Rank() > out[j].Rank(); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// BindRuntime supplies the node.Runtime a Context built for Fire/Start/Stop
// will delegate to. The engine calls this once, after constructing the
// composite runtime that wraps this Cycle.
func (c *Cycle) BindRuntime(rt node.Runtime) { c.rt = rt }

// Nodes returns every node this Cycle drives, ascending by rank.
func (c *Cycle) Nodes() []*node.Instance { return c.sortedNodes }

// NodeByID looks up a node by id, for the alarm facility's rank lookups
// and the dynamic package's instantiator resolution.
func (c *Cycle) NodeByID(id node.ID) (*node.Instance, bool) {
	inst, ok := c.nodes[id]
	return inst, ok
}

// Now returns the current engine time. Part of node.Runtime.
func (c *Cycle) Now() Time { return c.now }

// QueueLen reports the number of pending scheduled events.
func (c *Cycle) QueueLen() int { return c.queue.Len() }

// PeekTime reports the next time the queue would advance to.
func (c *Cycle) PeekTime() (Time, bool) { return c.queue.PeekTime() }

// Schedule enqueues a write of v to target at time t, applied when the
// cycle loop reaches t. Used by pull/push adapters to inject ticks outside
// the current cycle.
func (c *Cycle) Schedule(t Time, target *edge.Buffer, v value.Value, kind EventKind) Handle {
	return c.queue.Push(&Event{Time: t, Rank: -1, Kind: kind, Edge: target, Value: v})
}

// ScheduleAlarm enqueues an alarm delivery to owner's alarm edge at time t,
// at owner's own rank; used for delay > 0 alarms, which land on a later
// time and so need no special same-cycle ordering.
func (c *Cycle) ScheduleAlarm(owner *node.Instance, t Time, payload value.Value) Handle {
	return c.queue.Push(&Event{Time: t, Rank: owner.Rank(), Kind: KindAlarm, Edge: owner.AlarmEdge(), Value: payload, Target: owner})
}

// EmitAlarmNow delivers an alarm to owner immediately, within the current
// cycle, at rank owner.Rank()+1: the effective slot after the current
// cycle's propagation that a delay==0 alarm gets instead of a future
// event. Must be called while a cycle is active (inside Advance's batch
// or RunStartHooks).
func (c *Cycle) EmitAlarmNow(owner *node.Instance, payload value.Value) error {
	if _, err := owner.AlarmEdge().Write(c.now, payload); err != nil {
		return err
	}
	c.addPending(owner, owner.Rank()+1, false)
	if c.metrics != nil {
		c.metrics.RecordAlarmFired()
	}
	return nil
}

// Cancel cancels a previously scheduled heap event.
func (c *Cycle) Cancel(h Handle) { c.queue.Cancel(h) }

// PushControl enqueues the control event Stop() uses to unwind the loop
// after the cycle at t finishes.
func (c *Cycle) PushControl(t Time) Handle {
	return c.queue.Push(&Event{Time: t, Rank: 1 << 30, Kind: KindControl})
}

// Emit writes v to out at the current engine time and schedules every
// consumer of out for this same cycle. Part of node.Runtime; called via
// Context.Write from inside a node's OnStart/OnFire.
func (c *Cycle) Emit(out *edge.Buffer, v value.Value) error {
	if _, err := out.Write(c.now, v); err != nil {
		return err
	}
	c.scheduleConsumers(out)
	return nil
}

func (c *Cycle) scheduleConsumers(buf *edge.Buffer) {
	for _, inst := range c.consumers[buf.ID()] {
		c.addPending(inst, inst.Rank(), false)
	}
	for _, inst := range c.feedbackConsumers[buf.ID()] {
		c.addPending(inst, inst.Rank(), true)
	}
}

func (c *Cycle) addPending(inst *node.Instance, rank int, feedback bool) {
	if c.fired[inst.ID()] || c.queued[inst.ID()] {
		return
	}
	c.queued[inst.ID()] = true
	if feedback {
		c.feedbackPending[rank] = append(c.feedbackPending[rank], inst)
		return
	}
	c.pendingByRank[rank] = append(c.pendingByRank[rank], inst)
	if rank > c.maxRank {
		c.maxRank = rank
	}
}

// BeginCycle resets Cycle's per-time bookkeeping and sets the engine clock
// to t. The engine calls it once before RunStartHooks (at starttime) and
// once per Advance (at the next event's time).
func (c *Cycle) BeginCycle(t Time) {
	c.now = t
	c.pendingByRank = make(map[int][]*node.Instance)
	c.feedbackPending = make(map[int][]*node.Instance)
	c.fired = make(map[node.ID]bool)
	c.queued = make(map[node.ID]bool)
	c.maxRank = -1
	if c.metrics != nil {
		c.metrics.RecordEngineNow(time.Duration(t))
	}
}

// Advance drains every event queued at the earliest pending time into one
// cycle: applying writes, firing every node they reach in rank order
// exactly once, then draining the feedback queue. advanced is false only
// when the queue was empty. stopped reports whether a control event was
// seen; the caller should stop the outer loop after this call returns,
// not before, since the current cycle always completes first.
func (c *Cycle) Advance() (advanced bool, stopped bool, err error) {
	t, ok := c.queue.PeekTime()
	if !ok {
		return false, false, nil
	}
	c.BeginCycle(t)

	var popped int
	for {
		pt, ok := c.queue.PeekTime()
		if !ok || pt != t {
			break
		}
		ev := c.queue.Pop()
		if ev == nil {
			break
		}
		popped++
		if ev.Kind == KindControl {
			stopped = true
			continue
		}
		if err := c.applyEvent(ev); err != nil {
			return true, stopped, err
		}
	}
	if c.metrics != nil {
		c.metrics.RecordEventsPerCycle(popped)
	}

	if err := c.drainPending(); err != nil {
		return true, stopped, err
	}
	return true, stopped, nil
}

func (c *Cycle) applyEvent(ev *Event) error {
	if ev.Edge == nil {
		return nil
	}
	if _, err := ev.Edge.Write(c.now, ev.Value); err != nil {
		return err
	}
	if ev.Kind == KindAlarm && ev.Target != nil {
		c.addPending(ev.Target, ev.Target.Rank(), false)
		if c.metrics != nil {
			c.metrics.RecordAlarmFired()
		}
		return nil
	}
	c.scheduleConsumers(ev.Edge)
	return nil
}

// drainPending fires every node reached this cycle, in ascending rank
// order, then repeats for the feedback queue until it runs dry.
func (c *Cycle) drainPending() error {
	if err := c.drainRanks(); err != nil {
		return err
	}

	for pass := 0; len(c.feedbackPending) > 0; pass++ {
		if pass >= maxFeedbackPasses {
			return errors.WrapFatal(errors.ErrInvariantViolation, "Cycle", "drainPending",
				fmt.Sprintf("feedback chain did not settle within %d passes at t=%d", maxFeedbackPasses, c.now))
		}
		fb := c.feedbackPending
		c.feedbackPending = make(map[int][]*node.Instance)
		for r, insts := range fb {
			for _, inst := range insts {
				if c.fired[inst.ID()] {
					continue
				}
				c.pendingByRank[r] = append(c.pendingByRank[r], inst)
				if r > c.maxRank {
					c.maxRank = r
				}
			}
		}
		if err := c.drainRanks(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cycle) drainRanks() error {
	for r := 0; r <= c.maxRank; r++ {
		insts := c.pendingByRank[r]
		delete(c.pendingByRank, r)
		for _, inst := range insts {
			if c.fired[inst.ID()] {
				continue
			}
			if err := c.fire(inst); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Cycle) fire(inst *node.Instance) error {
	mask, shouldFire := inst.TickedMask(c.now)
	c.fired[inst.ID()] = true
	if !shouldFire {
		return nil
	}
	ctx := node.NewContext(inst, c.rt)
	if err := inst.Fire(ctx, mask); err != nil {
		if errors.IsFatal(err) {
			return err
		}
		c.logger.Warn("node fire returned non-fatal error", "node", inst.ID(), "kind", inst.Kind(), "error", err)
	}
	return nil
}

// RunStartHooks calls OnStart on every node in ascending rank order, then
// drains any propagation those hooks triggered. The caller must have
// called BeginCycle(starttime) first.
func (c *Cycle) RunStartHooks() error {
	for _, inst := range c.sortedNodes {
		ctx := node.NewContext(inst, c.rt)
		if err := inst.Start(ctx); err != nil {
			return err
		}
	}
	return c.drainPending()
}

// StartNodes calls OnStart on nodes, in the order given, then drains any
// propagation those hooks triggered. Used by dynamic.Manager to start a
// freshly instantiated sub-graph's nodes without re-running every other
// node's OnStart.
func (c *Cycle) StartNodes(nodes []*node.Instance) error {
	for _, inst := range nodes {
		ctx := node.NewContext(inst, c.rt)
		if err := inst.Start(ctx); err != nil {
			return err
		}
	}
	return c.drainPending()
}

// StopNodes calls OnStop on nodes in the order given, collecting (but not
// aborting on) the first error so every node still gets a chance to clean
// up. Used by dynamic.Manager to tear down a sub-graph's nodes; callers
// should pass nodes in reverse rank order.
func (c *Cycle) StopNodes(nodes []*node.Instance) error {
	var firstErr error
	for _, inst := range nodes {
		ctx := node.NewContext(inst, c.rt)
		if err := inst.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RunStopHooks calls OnStop on every node in reverse rank order, collecting
// (but not aborting on) the first error so every node still gets a chance
// to clean up.
func (c *Cycle) RunStopHooks() error {
	var firstErr error
	for i := len(c.sortedNodes) - 1; i >= 0; i-- {
		inst := c.sortedNodes[i]
		ctx := node.NewContext(inst, c.rt)
		if err := inst.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
