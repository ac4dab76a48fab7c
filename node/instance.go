package node

import (
	"fmt"
	"time"

	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/metric"
	"github.com/c360/csp/value"
)

func errInvalidInput(i int) error {
	return errors.WrapInvalid(fmt.Errorf("input index %d out of range", i), "Context", "Read", "input lookup")
}

func errInvalidOutput(i int) error {
	return errors.WrapInvalid(fmt.Errorf("output index %d out of range", i), "Context", "Write", "output lookup")
}

// Subscription is one input wiring: the edge it reads, whether a tick on
// that edge causes the node to fire (active) or merely updates the node's
// view (passive), and the history depth this subscription declared.
type Subscription struct {
	Edge         *edge.Buffer
	Active       bool
	HistoryDepth int
}

// Instance is the runtime record for one node in the graph: its wiring,
// lifecycle state, and the counters the health and metric packages read.
// Instance owns no node-kind state itself; that lives inside Behavior, so
// the engine can freely inspect an Instance's bookkeeping without ever
// touching a node's private data.
type Instance struct {
	id       ID
	kind     string
	rank     int
	behavior Behavior
	inputs   []Subscription
	outputs  []*edge.Buffer

	state     State
	startedAt time.Time
	fireCount int64
	lastFire  time.Time
	errCount  int
	lastErr   string

	alarmEdge *edge.Buffer

	metrics *metric.Metrics
}

// NewInstance constructs a node Instance. rank is assigned later by the
// topology builder's Kahn's-algorithm pass; it defaults to 0.
func NewInstance(id ID, kind string, behavior Behavior, inputs []Subscription, outputs []*edge.Buffer, metrics *metric.Metrics) *Instance {
	return &Instance{
		id:       id,
		kind:     kind,
		behavior: behavior,
		inputs:   inputs,
		outputs:  outputs,
		state:    StateCreated,
		metrics:  metrics,
	}
}

// ID returns the node's unique identifier.
func (n *Instance) ID() ID { return n.id }

// Kind returns the node kind name used for metrics and diagnostics.
func (n *Instance) Kind() string { return n.kind }

// Rank returns the node's intra-cycle firing rank.
func (n *Instance) Rank() int { return n.rank }

// SetRank is called once by the topology builder after Kahn's-algorithm
// rank assignment (or, for a dynamically instantiated node, after rank
// offsetting relative to its instantiator).
func (n *Instance) SetRank(r int) { n.rank = r }

// Inputs returns the node's input subscriptions in declaration order.
func (n *Instance) Inputs() []Subscription { return n.inputs }

// Outputs returns the node's output edges in declaration order.
func (n *Instance) Outputs() []*edge.Buffer { return n.outputs }

// State returns the node's current lifecycle state.
func (n *Instance) State() State { return n.state }

// StartedAt returns the wall-clock time Start was called.
func (n *Instance) StartedAt() time.Time { return n.startedAt }

// FireCount returns the number of times OnFire has been invoked.
func (n *Instance) FireCount() int64 { return n.fireCount }

// LastFireAt returns the wall-clock time of the most recent OnFire call.
func (n *Instance) LastFireAt() time.Time { return n.lastFire }

// ErrorCount returns the number of OnFire/OnStart/OnStop calls that
// returned an error.
func (n *Instance) ErrorCount() int { return n.errCount }

// LastError returns the most recent hook error's message, or "".
func (n *Instance) LastError() string { return n.lastErr }

// TickedMask computes which input indices ticked at t and whether the
// node should fire: it fires iff at least one active subscription ticked.
// This is the firing rule's authoritative home; one node never fires
// twice for the same t because the caller only invokes TickedMask once
// per (node, t), driven by the scheduler's per-cycle dedup set. An alarm
// that woke the node at t also causes a fire, signaled via AlarmTick.
func (n *Instance) TickedMask(t edge.Time) (mask uint64, shouldFire bool) {
	for i, sub := range n.inputs {
		if sub.Edge.TickedAt(t) {
			mask |= 1 << uint(i)
			if sub.Active {
				shouldFire = true
			}
		}
	}
	if n.alarmEdge != nil && n.alarmEdge.TickedAt(t) {
		mask |= AlarmTick
		shouldFire = true
	}
	return mask, shouldFire
}

// AlarmEdge returns this node's private self-edge used to deliver alarm
// payloads, creating it on first use. The alarm facility writes to it the
// same way any producer writes to an edge; the node reads it back via
// Context.ReadAlarm.
func (n *Instance) AlarmEdge() *edge.Buffer {
	if n.alarmEdge == nil {
		n.alarmEdge = edge.NewBuffer(edge.ID(string(n.id)+"#alarm"), value.Type{}, 2, n.metrics)
	}
	return n.alarmEdge
}

// Start transitions the node from Created to Started, invoking the
// behavior's OnStart hook.
func (n *Instance) Start(ctx *Context) error {
	if err := n.behavior.OnStart(ctx); err != nil {
		n.fail(err)
		return err
	}
	n.state = StateStarted
	n.startedAt = time.Now()
	return nil
}

// Fire invokes the behavior's OnFire hook and updates fire bookkeeping.
func (n *Instance) Fire(ctx *Context, tickedMask uint64) error {
	err := n.behavior.OnFire(ctx, tickedMask)
	n.fireCount++
	n.lastFire = time.Now()
	if n.metrics != nil {
		n.metrics.RecordNodeFire(n.kind)
	}
	if err != nil {
		n.fail(err)
		return err
	}
	return nil
}

// Stop transitions the node to Stopped, invoking the behavior's OnStop
// hook. Stop is called even on a node that previously Failed, so cleanup
// hooks still run; OnStop implementations must tolerate partial state.
func (n *Instance) Stop(ctx *Context) error {
	if err := n.behavior.OnStop(ctx); err != nil {
		n.fail(err)
		return err
	}
	if n.state != StateFailed {
		n.state = StateStopped
	}
	return nil
}

func (n *Instance) fail(err error) {
	n.state = StateFailed
	n.errCount++
	n.lastErr = err.Error()
	if n.metrics != nil {
		n.metrics.RecordError(errors.Classify(err).String())
	}
}
