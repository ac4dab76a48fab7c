package node

import (
	"time"

	"github.com/c360/csp/edge"
	"github.com/c360/csp/value"
)

// ID uniquely identifies a node within a graph.
type ID string

// AlarmHandle identifies a pending alarm so it can later be canceled.
// Canceling a handle whose event has already fired is a no-op. The zero
// value never refers to a real alarm.
type AlarmHandle uint64

// AlarmTick is set in the tickedMask passed to OnFire when an alarm woke
// this node at the current engine time, in addition to any ordinary
// subscription bits that also ticked. A node has at most 63 declared
// subscriptions, so the top bit is free for this purpose.
const AlarmTick uint64 = 1 << 63

// Behavior is the code a node kind implements: reacting to ticks, owning
// private scratch state, and writing to its output edges. The engine never
// reads or mutates a node's scratch state directly; two nodes communicate
// only through edges, never through shared memory.
type Behavior interface {
	// OnStart runs once, after every edge is wired, in topological order.
	// It may schedule initial alarms and write initial outputs; those
	// writes schedule downstream nodes at the engine's start time.
	OnStart(ctx *Context) error

	// OnFire runs when at least one active input subscription has ticked
	// at the current engine time. tickedMask has bit i set when input i
	// (active or passive) ticked this cycle.
	OnFire(ctx *Context, tickedMask uint64) error

	// OnStop runs once, in reverse topological order, at engine shutdown
	// or sub-graph teardown.
	OnStop(ctx *Context) error
}

// Runtime is the engine-side capability a Context exposes to a running
// node: writing outputs, scheduling alarms, and requesting dynamic
// sub-graph instantiation. It is implemented by the engine's cycle driver;
// node itself never imports scheduler, alarm, or engine, which keeps this
// package a leaf the rest of the engine builds on rather than a hub that
// depends back on them.
type Runtime interface {
	// Now returns the current engine time.
	Now() edge.Time

	// Emit writes v to out at the current engine time and schedules every
	// downstream consumer subscription for this cycle.
	Emit(out *edge.Buffer, v value.Value) error

	// ScheduleAlarm arranges for owner to be woken with payload after
	// delay. delay == 0 fires at the current engine time but strictly
	// after the current cycle's same-time propagation has settled.
	ScheduleAlarm(owner ID, delay time.Duration, payload value.Value) (AlarmHandle, error)

	// CancelAlarm cancels a pending alarm. A no-op if it already fired.
	CancelAlarm(h AlarmHandle)

	// InstantiateSubGraph requests that the dynamic sub-graph configured
	// for instantiator be constructed, keyed by discriminator.
	InstantiateSubGraph(instantiator ID, discriminator value.Value) error

	// TeardownSubGraph requests teardown of the sub-graph previously
	// instantiated by instantiator under discriminator.
	TeardownSubGraph(instantiator ID, discriminator value.Value) error
}

// Context is passed to every Behavior hook. It bundles read access to the
// node's own input/output edges with the Runtime capability needed to
// produce effects (writes, alarms, sub-graphs).
type Context struct {
	node *Instance
	rt   Runtime
}

// NewContext constructs a Context for inst backed by rt. Callers are the
// engine's cycle driver; node kinds never construct a Context themselves.
func NewContext(inst *Instance, rt Runtime) *Context {
	return &Context{node: inst, rt: rt}
}

// Self returns the node instance this context was built for.
func (c *Context) Self() *Instance { return c.node }

// Now returns the current engine time.
func (c *Context) Now() edge.Time { return c.rt.Now() }

// Read returns the latest sample on input i. ok is false if that input has
// never ticked.
func (c *Context) Read(i int) (t edge.Time, v value.Value, ok bool) {
	if i < 0 || i >= len(c.node.inputs) {
		return 0, value.Value{}, false
	}
	return c.node.inputs[i].Edge.Last()
}

// ReadAt returns the sample k ticks before the latest on input i.
func (c *Context) ReadAt(i, k int) (t edge.Time, v value.Value, err error) {
	if i < 0 || i >= len(c.node.inputs) {
		return 0, value.Value{}, errInvalidInput(i)
	}
	return c.node.inputs[i].Edge.At(k)
}

// Write writes v to output i at the current engine time.
func (c *Context) Write(i int, v value.Value) error {
	if i < 0 || i >= len(c.node.outputs) {
		return errInvalidOutput(i)
	}
	return c.rt.Emit(c.node.outputs[i], v)
}

// ScheduleAlarm schedules an alarm owned by this node.
func (c *Context) ScheduleAlarm(delay time.Duration, payload value.Value) (AlarmHandle, error) {
	return c.rt.ScheduleAlarm(c.node.id, delay, payload)
}

// CancelAlarm cancels a previously scheduled alarm owned by this node.
func (c *Context) CancelAlarm(h AlarmHandle) {
	c.rt.CancelAlarm(h)
}

// InstantiateSubGraph requests dynamic instantiation of this node's
// configured sub-graph, keyed by discriminator.
func (c *Context) InstantiateSubGraph(discriminator value.Value) error {
	return c.rt.InstantiateSubGraph(c.node.id, discriminator)
}

// TeardownSubGraph requests teardown of a previously instantiated
// sub-graph keyed by discriminator.
func (c *Context) TeardownSubGraph(discriminator value.Value) error {
	return c.rt.TeardownSubGraph(c.node.id, discriminator)
}

// ReadAlarm returns the payload of the alarm that woke this node at the
// current engine time. ok is false if no alarm fired this cycle.
func (c *Context) ReadAlarm() (value.Value, bool) {
	if c.node.alarmEdge == nil {
		return value.Value{}, false
	}
	t, v, ok := c.node.alarmEdge.Last()
	if !ok || t != c.rt.Now() {
		return value.Value{}, false
	}
	return v, true
}
