package scheduler

import (
	"container/heap"

	"github.com/c360/csp/edge"
	"github.com/c360/csp/node"
	"github.com/c360/csp/value"
)

// EventKind classifies a Queue entry for metrics and for Cycle's apply
// logic. AdapterPush and EdgeWrite are handled identically once popped;
// the distinction exists because adapter-sourced and node-internal writes
// are conceptually different producers, not because they need different
// code paths.
type EventKind int

const (
	KindAdapterPush EventKind = iota
	KindEdgeWrite
	KindAlarm
	KindControl
)

func (k EventKind) String() string {
	switch k {
	case KindAdapterPush:
		return "adapter-push"
	case KindEdgeWrite:
		return "edge-write"
	case KindAlarm:
		return "alarm"
	case KindControl:
		return "control"
	default:
		return "unknown"
	}
}

// Handle identifies a pushed Event so it can later be canceled. The zero
// Handle never refers to a real event.
type Handle uint64

// Event is one entry in the priority queue: a scheduled write to an edge
// (or, for Control, a bare time marker) carrying its own tie-breaking
// rank and sequence number.
type Event struct {
	Time Time
	Rank int
	Seq  uint64
	Kind EventKind

	// Edge is the buffer this event writes to. Nil for Control events.
	Edge *edge.Buffer
	// Value is the payload written to Edge.
	Value value.Value
	// Target is set for Alarm events: the event is delivered directly to
	// this node rather than resolved through the edge-consumer index,
	// since an alarm edge has exactly one consumer (its owner) that
	// topology never wires.
	Target *node.Instance

	handle   Handle
	canceled bool
}

// queueImpl is the container/heap.Interface backing Queue. It is kept
// separate from Queue so Queue's exported surface stays the O(log n)
// push/pop/peek/cancel contract, not heap plumbing.
type queueImpl []*Event

func (q queueImpl) Len() int { return len(q) }

func (q queueImpl) Less(i, j int) bool {
	if q[i].Time != q[j].Time {
		return q[i].Time < q[j].Time
	}
	if q[i].Rank != q[j].Rank {
		return q[i].Rank < q[j].Rank
	}
	return q[i].Seq < q[j].Seq
}

func (q queueImpl) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *queueImpl) Push(x any) { *q = append(*q, x.(*Event)) }

func (q *queueImpl) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// Queue is the scheduler's min-heap of pending events, ordered by
// (time asc, rank asc, seq asc). It is not safe for concurrent use; the
// engine thread owns it exclusively; adapters cross into the engine
// through adapter.Manager's push lock before ever touching a Queue,
// following edge.Buffer's same no-internal-locking convention.
type Queue struct {
	heap     queueImpl
	nextSeq  uint64
	nextH    Handle
	byHandle map[Handle]*Event
	onDepth  func(int)
}

// NewQueue constructs an empty Queue. onDepth, if non-nil, is called after
// every Push/Pop with the current queue length, for gauge instrumentation.
func NewQueue(onDepth func(int)) *Queue {
	return &Queue{byHandle: make(map[Handle]*Event), onDepth: onDepth}
}

// Push inserts e, assigning its Seq and returning a Handle usable with
// Cancel. O(log n).
func (q *Queue) Push(e *Event) Handle {
	q.nextSeq++
	e.Seq = q.nextSeq
	q.nextH++
	e.handle = q.nextH
	heap.Push(&q.heap, e)
	q.byHandle[e.handle] = e
	q.reportDepth()
	return e.handle
}

// PeekTime returns the earliest non-canceled event's time. ok is false if
// the queue has no pending event. O(1) amortized: canceled entries at the
// top are skipped and dropped lazily.
func (q *Queue) PeekTime() (Time, bool) {
	q.dropCanceledTop()
	if q.heap.Len() == 0 {
		return 0, false
	}
	return q.heap[0].Time, true
}

// Pop removes and returns the earliest non-canceled event, or nil if the
// queue is empty. O(log n).
func (q *Queue) Pop() *Event {
	q.dropCanceledTop()
	if q.heap.Len() == 0 {
		return nil
	}
	e := heap.Pop(&q.heap).(*Event)
	delete(q.byHandle, e.handle)
	q.reportDepth()
	return e
}

// Cancel marks h's event as canceled. Popping it later is a no-op.
// Canceling a handle that already fired (or was never valid) is a no-op.
func (q *Queue) Cancel(h Handle) {
	if e, ok := q.byHandle[h]; ok {
		e.canceled = true
	}
}

// Len returns the number of events still pending, including any
// not-yet-dropped tombstones.
func (q *Queue) Len() int { return q.heap.Len() }

func (q *Queue) dropCanceledTop() {
	for q.heap.Len() > 0 && q.heap[0].canceled {
		e := heap.Pop(&q.heap).(*Event)
		delete(q.byHandle, e.handle)
	}
}

func (q *Queue) reportDepth() {
	if q.onDepth != nil {
		q.onDepth(q.heap.Len())
	}
}
