package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/csp/edge"
	"github.com/c360/csp/value"
)

// fakeRuntime is a minimal node.Runtime used to exercise Context and
// Instance without pulling in the scheduler.
type fakeRuntime struct {
	now      edge.Time
	writes   []value.Value
	alarms   []time.Duration
	canceled []AlarmHandle
	nextH    AlarmHandle
}

func (f *fakeRuntime) Now() edge.Time { return f.now }

func (f *fakeRuntime) Emit(out *edge.Buffer, v value.Value) error {
	f.writes = append(f.writes, v)
	_, err := out.Write(f.now, v)
	return err
}

func (f *fakeRuntime) ScheduleAlarm(owner ID, delay time.Duration, payload value.Value) (AlarmHandle, error) {
	f.nextH++
	f.alarms = append(f.alarms, delay)
	return f.nextH, nil
}

func (f *fakeRuntime) CancelAlarm(h AlarmHandle) {
	f.canceled = append(f.canceled, h)
}

func (f *fakeRuntime) InstantiateSubGraph(instantiator ID, discriminator value.Value) error { return nil }
func (f *fakeRuntime) TeardownSubGraph(instantiator ID, discriminator value.Value) error    { return nil }

// adderBehavior sums the last value on two inputs whenever either ticks.
type adderBehavior struct{}

func (adderBehavior) OnStart(ctx *Context) error { return nil }

func (adderBehavior) OnFire(ctx *Context, mask uint64) error {
	_, a, aOK := ctx.Read(0)
	_, b, bOK := ctx.Read(1)
	var sum int64
	if aOK {
		n, _ := a.AsInt64()
		sum += n
	}
	if bOK {
		n, _ := b.AsInt64()
		sum += n
	}
	return ctx.Write(0, value.Int64(sum))
}

func (adderBehavior) OnStop(ctx *Context) error { return nil }

func newAdderInstance() (*Instance, *edge.Buffer, *edge.Buffer, *edge.Buffer) {
	a := edge.NewBuffer("a", value.Type{Kind: value.KindInt64}, 4, nil)
	b := edge.NewBuffer("b", value.Type{Kind: value.KindInt64}, 4, nil)
	out := edge.NewBuffer("out", value.Type{Kind: value.KindInt64}, 4, nil)

	inst := NewInstance("adder", "adder", adderBehavior{},
		[]Subscription{{Edge: a, Active: true}, {Edge: b, Active: true}},
		[]*edge.Buffer{out}, nil)
	return inst, a, b, out
}

func TestTickedMaskAndFiringRule(t *testing.T) {
	inst, a, b, _ := newAdderInstance()

	_, err := a.Write(10, value.Int64(1))
	require.NoError(t, err)

	mask, fire := inst.TickedMask(10)
	require.True(t, fire)
	require.Equal(t, uint64(1), mask) // only input 0 ticked

	_, err = b.Write(10, value.Int64(2))
	require.NoError(t, err)
	mask, fire = inst.TickedMask(10)
	require.True(t, fire)
	require.Equal(t, uint64(3), mask) // both ticked
}

func TestPassiveSubscriptionDoesNotCauseFire(t *testing.T) {
	a := edge.NewBuffer("a", value.Type{Kind: value.KindInt64}, 2, nil)
	b := edge.NewBuffer("b", value.Type{Kind: value.KindInt64}, 2, nil)
	inst := NewInstance("n", "test", adderBehavior{},
		[]Subscription{{Edge: a, Active: true}, {Edge: b, Active: false}},
		nil, nil)

	_, err := b.Write(10, value.Int64(1))
	require.NoError(t, err)

	mask, fire := inst.TickedMask(10)
	require.False(t, fire)
	require.Equal(t, uint64(2), mask) // passive input still visible in the mask
}

func TestInstanceStartFireStopLifecycle(t *testing.T) {
	inst, a, b, out := newAdderInstance()
	rt := &fakeRuntime{now: 10}
	ctx := NewContext(inst, rt)

	require.Equal(t, StateCreated, inst.State())
	require.NoError(t, inst.Start(ctx))
	require.Equal(t, StateStarted, inst.State())

	_, err := a.Write(10, value.Int64(3))
	require.NoError(t, err)
	_, err = b.Write(10, value.Int64(4))
	require.NoError(t, err)

	mask, fire := inst.TickedMask(10)
	require.True(t, fire)

	require.NoError(t, inst.Fire(ctx, mask))
	require.EqualValues(t, 1, inst.FireCount())

	_, v, ok := out.Last()
	require.True(t, ok)
	n, _ := v.AsInt64()
	require.EqualValues(t, 7, n)

	require.NoError(t, inst.Stop(ctx))
	require.Equal(t, StateStopped, inst.State())
}

// failingBehavior always fails OnFire, to exercise error bookkeeping.
type failingBehavior struct{}

func (failingBehavior) OnStart(ctx *Context) error { return nil }
func (failingBehavior) OnFire(ctx *Context, mask uint64) error {
	return errInvalidInput(99)
}
func (failingBehavior) OnStop(ctx *Context) error { return nil }

func TestInstanceRecordsFireErrors(t *testing.T) {
	inst := NewInstance("n", "test", failingBehavior{}, nil, nil, nil)
	rt := &fakeRuntime{now: 5}
	ctx := NewContext(inst, rt)

	err := inst.Fire(ctx, 0)
	require.Error(t, err)
	require.Equal(t, StateFailed, inst.State())
	require.Equal(t, 1, inst.ErrorCount())
	require.NotEmpty(t, inst.LastError())
}

func TestRegistryRegisterAndCreate(t *testing.T) {
	r := NewRegistry()

	err := r.Register(Registration{
		Kind:    "adder",
		Factory: func(config value.Value) (Behavior, error) { return adderBehavior{}, nil },
	})
	require.NoError(t, err)

	// duplicate registration fails
	err = r.Register(Registration{
		Kind:    "adder",
		Factory: func(config value.Value) (Behavior, error) { return adderBehavior{}, nil },
	})
	require.Error(t, err)

	behavior, err := r.Create("adder", value.Value{})
	require.NoError(t, err)
	require.NotNil(t, behavior)

	_, err = r.Create("unknown", value.Value{})
	require.Error(t, err)
}

func TestDefaultRegistryIsEmpty(t *testing.T) {
	r := DefaultRegistry()
	require.Empty(t, r.Kinds())
}

func TestAlarmEdgeCausesFireAndSetsAlarmTick(t *testing.T) {
	inst := NewInstance("n", "test", adderBehavior{}, nil, nil, nil)

	alarmEdge := inst.AlarmEdge()
	_, err := alarmEdge.Write(7, value.Bool(true))
	require.NoError(t, err)

	mask, fire := inst.TickedMask(7)
	require.True(t, fire)
	require.Equal(t, AlarmTick, mask)

	rt := &fakeRuntime{now: 7}
	ctx := NewContext(inst, rt)
	v, ok := ctx.ReadAlarm()
	require.True(t, ok)
	b, _ := v.AsBool()
	require.True(t, b)
}
