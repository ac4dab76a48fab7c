// Package alarm implements the engine's per-node timer facility: a thin
// wrapper over scheduler.Cycle that translates node.ID-keyed
// Schedule/Cancel calls into the Cycle's rank-aware alarm-edge delivery.
//
// Keeping this translation in its own package, rather than folding it into
// scheduler.Cycle, is what lets scheduler stay ignorant of node.ID-keyed
// alarm bookkeeping: scheduler only knows "which *node.Instance should this
// heap event wake", never "which node owns this handle".
package alarm

import (
	"fmt"
	"time"

	"github.com/c360/csp/errors"
	"github.com/c360/csp/metric"
	"github.com/c360/csp/node"
	"github.com/c360/csp/scheduler"
	"github.com/c360/csp/value"
)

// Facility schedules and cancels alarms on behalf of running nodes. It is
// not safe for concurrent use; like scheduler.Cycle, it is owned
// exclusively by the engine's single run loop.
type Facility struct {
	cycle   *scheduler.Cycle
	metrics *metric.Metrics

	byHandle map[node.AlarmHandle]pending
	nextH    node.AlarmHandle
}

type pending struct {
	owner       *node.Instance
	queueHandle scheduler.Handle
	fired       bool
}

// NewFacility constructs a Facility delivering alarms through cycle.
// metrics may be nil.
func NewFacility(cycle *scheduler.Cycle, metrics *metric.Metrics) *Facility {
	return &Facility{cycle: cycle, metrics: metrics, byHandle: make(map[node.AlarmHandle]pending)}
}

// Schedule arranges for owner to be woken with payload after delay. A
// delay of zero fires within the current cycle, at owner's rank+1, as a
// secondary same-time pass rather than a future event; EmitAlarmNow
// therefore cannot be canceled after this call returns, since it has
// already taken effect.
func (f *Facility) Schedule(owner node.ID, now scheduler.Time, delay time.Duration, payload value.Value) (node.AlarmHandle, error) {
	inst, ok := f.cycle.NodeByID(owner)
	if !ok {
		return 0, errors.WrapInvalid(fmt.Errorf("unknown node %q", owner), "Facility", "Schedule", "alarm owner lookup")
	}

	f.nextH++
	h := f.nextH

	if f.metrics != nil {
		f.metrics.RecordAlarmScheduled()
	}

	if delay <= 0 {
		if err := f.cycle.EmitAlarmNow(inst, payload); err != nil {
			return 0, err
		}
		f.byHandle[h] = pending{owner: inst, fired: true}
		return h, nil
	}

	at := now + scheduler.Time(delay.Nanoseconds())
	qh := f.cycle.ScheduleAlarm(inst, at, payload)
	f.byHandle[h] = pending{owner: inst, queueHandle: qh}
	return h, nil
}

// Cancel cancels a pending alarm. A no-op if it already fired or the
// handle is unknown/stale.
func (f *Facility) Cancel(h node.AlarmHandle) {
	p, ok := f.byHandle[h]
	if !ok || p.fired {
		return
	}
	f.cycle.Cancel(p.queueHandle)
	delete(f.byHandle, h)
	if f.metrics != nil {
		f.metrics.RecordAlarmCanceled()
	}
}

// CancelOwnedBy cancels every still-pending alarm owned by owner and drops
// its bookkeeping, fired or not. dynamic.Manager calls this during
// sub-graph teardown so a torn-down node's in-flight alarm can never
// deliver to an Instance the Cycle no longer indexes.
func (f *Facility) CancelOwnedBy(owner node.ID) {
	for h, p := range f.byHandle {
		if p.owner.ID() != owner {
			continue
		}
		if !p.fired {
			f.cycle.Cancel(p.queueHandle)
			if f.metrics != nil {
				f.metrics.RecordAlarmCanceled()
			}
		}
		delete(f.byHandle, h)
	}
}
