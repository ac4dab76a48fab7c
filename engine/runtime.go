package engine

import (
	"time"

	"github.com/c360/csp/alarm"
	"github.com/c360/csp/dynamic"
	"github.com/c360/csp/edge"
	"github.com/c360/csp/node"
	"github.com/c360/csp/scheduler"
	"github.com/c360/csp/value"
)

// runtime is the node.Runtime every node.Context delegates to: it composes
// the scheduler.Cycle, alarm.Facility, and dynamic.Manager an Engine owns
// into the six-method surface the node package defines, with no behavior
// of its own.
type runtime struct {
	cycle  *scheduler.Cycle
	alarms *alarm.Facility
	dyn    *dynamic.Manager
}

func newRuntime(cycle *scheduler.Cycle, alarms *alarm.Facility, dyn *dynamic.Manager) *runtime {
	return &runtime{cycle: cycle, alarms: alarms, dyn: dyn}
}

// Now returns the current engine time.
func (r *runtime) Now() edge.Time {
	return r.cycle.Now()
}

// Emit writes v to out and schedules its consumers for this cycle.
func (r *runtime) Emit(out *edge.Buffer, v value.Value) error {
	return r.cycle.Emit(out, v)
}

// ScheduleAlarm schedules a self-alarm for owner, delay after now.
func (r *runtime) ScheduleAlarm(owner node.ID, delay time.Duration, payload value.Value) (node.AlarmHandle, error) {
	return r.alarms.Schedule(owner, r.cycle.Now(), delay, payload)
}

// CancelAlarm cancels a previously scheduled alarm by handle.
func (r *runtime) CancelAlarm(h node.AlarmHandle) {
	r.alarms.Cancel(h)
}

// InstantiateSubGraph builds and starts the sub-graph declared for
// instantiator, keyed by discriminator.
func (r *runtime) InstantiateSubGraph(instantiator node.ID, discriminator value.Value) error {
	return r.dyn.Instantiate(instantiator, discriminator)
}

// TeardownSubGraph queues the sub-graph instance for removal once the
// current cycle finishes.
func (r *runtime) TeardownSubGraph(instantiator node.ID, discriminator value.Value) error {
	return r.dyn.Teardown(instantiator, discriminator)
}
