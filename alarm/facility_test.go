package alarm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/csp/node"
	"github.com/c360/csp/scheduler"
	"github.com/c360/csp/value"
)

type recordingBehavior struct {
	fires *[]scheduler.Time
}

func (r recordingBehavior) OnStart(ctx *node.Context) error { return nil }
func (r recordingBehavior) OnFire(ctx *node.Context, mask uint64) error {
	*r.fires = append(*r.fires, ctx.Now())
	return nil
}
func (r recordingBehavior) OnStop(ctx *node.Context) error { return nil }

func TestScheduleDelayZeroFiresWithinCurrentCycle(t *testing.T) {
	var fires []scheduler.Time
	inst := node.NewInstance("n", "alarmed", recordingBehavior{fires: &fires}, nil, nil, nil)
	inst.SetRank(0)

	c := scheduler.NewCycle([]*node.Instance{inst}, nil, nil, nil)
	f := NewFacility(c, nil)

	c.BeginCycle(42)
	_, err := f.Schedule(inst.ID(), c.Now(), 0, value.Bool(true))
	require.NoError(t, err)

	// EmitAlarmNow only queued the fire at rank+1; the engine's drain
	// delivers it, and this test does not run that drain.
	require.Equal(t, []scheduler.Time(nil), fires) // not yet drained
}

func TestScheduleDelayPositiveEnqueuesFutureHeapEvent(t *testing.T) {
	var fires []scheduler.Time
	inst := node.NewInstance("n", "alarmed", recordingBehavior{fires: &fires}, nil, nil, nil)
	inst.SetRank(0)

	c := scheduler.NewCycle([]*node.Instance{inst}, nil, nil, nil)
	f := NewFacility(c, nil)

	h, err := f.Schedule(inst.ID(), 0, 5*time.Second, value.Bool(true))
	require.NoError(t, err)
	require.NotZero(t, h)

	at, ok := c.PeekTime()
	require.True(t, ok)
	require.EqualValues(t, 5*time.Second, at)
}

func TestCancelBeforeFireRemovesPendingAlarm(t *testing.T) {
	inst := node.NewInstance("n", "alarmed", recordingBehavior{fires: &[]scheduler.Time{}}, nil, nil, nil)
	inst.SetRank(0)

	c := scheduler.NewCycle([]*node.Instance{inst}, nil, nil, nil)
	f := NewFacility(c, nil)

	h, err := f.Schedule(inst.ID(), 0, 5*time.Second, value.Bool(true))
	require.NoError(t, err)

	f.Cancel(h)
	_, ok := c.PeekTime()
	require.False(t, ok)
}

func TestScheduleUnknownOwnerFails(t *testing.T) {
	c := scheduler.NewCycle(nil, nil, nil, nil)
	f := NewFacility(c, nil)

	_, err := f.Schedule("missing", 0, time.Second, value.Bool(true))
	require.Error(t, err)
}
