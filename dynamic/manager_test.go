package dynamic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c360/csp/alarm"
	"github.com/c360/csp/graphspec"
	"github.com/c360/csp/node"
	"github.com/c360/csp/scheduler"
	"github.com/c360/csp/value"
)

type recordingBehavior struct {
	starts *int
	stops  *int
}

func (b recordingBehavior) OnStart(ctx *node.Context) error {
	if b.starts != nil {
		*b.starts++
	}
	return nil
}
func (b recordingBehavior) OnFire(ctx *node.Context, mask uint64) error { return nil }
func (b recordingBehavior) OnStop(ctx *node.Context) error {
	if b.stops != nil {
		*b.stops++
	}
	return nil
}

func newRegistry(starts, stops *int) *node.Registry {
	reg := node.NewRegistry()
	_ = reg.Register(node.Registration{
		Kind: "echoer",
		Factory: func(config value.Value) (node.Behavior, error) {
			return recordingBehavior{starts: starts, stops: stops}, nil
		},
	})
	return reg
}

func newParentCycle(t *testing.T) (*scheduler.Cycle, *node.Instance) {
	t.Helper()
	instantiator := node.NewInstance("instantiator", "src", recordingBehavior{}, nil, nil, nil)
	instantiator.SetRank(0)
	c := scheduler.NewCycle([]*node.Instance{instantiator}, nil, nil, nil)
	return c, instantiator
}

func echoSpec() []graphspec.SubGraphSpec {
	return []graphspec.SubGraphSpec{
		{
			Name:         "echo",
			Instantiator: "instantiator",
			Nodes: []graphspec.NodeSpec{
				{ID: "echo", Kind: "echoer"},
			},
			Edges: nil,
		},
	}
}

func TestInstantiateWiresNodesAboveInstantiatorRank(t *testing.T) {
	var starts, stops int
	c, _ := newParentCycle(t)
	reg := newRegistry(&starts, &stops)
	m := NewManager(c, alarm.NewFacility(c, nil), reg, echoSpec(), nil, nil)

	require.NoError(t, m.Instantiate("instantiator", value.String("X")))
	require.Equal(t, 1, starts)
	require.Equal(t, 1, m.ActiveCount())

	inst, ok := c.NodeByID(node.ID(namespacePrefix("instantiator", "string:X") + "echo"))
	require.True(t, ok)
	require.Equal(t, 1, inst.Rank())
}

func TestInstantiateRejectsDuplicateDiscriminator(t *testing.T) {
	c, _ := newParentCycle(t)
	var starts, stops int
	reg := newRegistry(&starts, &stops)
	m := NewManager(c, alarm.NewFacility(c, nil), reg, echoSpec(), nil, nil)

	require.NoError(t, m.Instantiate("instantiator", value.String("X")))
	require.Error(t, m.Instantiate("instantiator", value.String("X")))
	require.Equal(t, 1, m.ActiveCount())
}

func TestInstantiateRejectsUnknownInstantiator(t *testing.T) {
	c, _ := newParentCycle(t)
	reg := newRegistry(nil, nil)
	m := NewManager(c, alarm.NewFacility(c, nil), reg, echoSpec(), nil, nil)

	require.Error(t, m.Instantiate("nope", value.String("X")))
}

func TestTeardownIsDeferredUntilFlush(t *testing.T) {
	var starts, stops int
	c, _ := newParentCycle(t)
	reg := newRegistry(&starts, &stops)
	m := NewManager(c, alarm.NewFacility(c, nil), reg, echoSpec(), nil, nil)

	require.NoError(t, m.Instantiate("instantiator", value.String("X")))
	require.NoError(t, m.Teardown("instantiator", value.String("X")))

	echoID := node.ID(namespacePrefix("instantiator", "string:X") + "echo")

	// Not yet applied: the node is still indexed and OnStop hasn't run.
	_, ok := c.NodeByID(echoID)
	require.True(t, ok)
	require.Equal(t, 0, stops)
	require.Equal(t, 1, m.ActiveCount())

	require.NoError(t, m.FlushTeardowns())
	require.Equal(t, 1, stops)
	require.Equal(t, 0, m.ActiveCount())

	_, ok = c.NodeByID(echoID)
	require.False(t, ok)
}

func TestTeardownUnknownInstanceFails(t *testing.T) {
	c, _ := newParentCycle(t)
	reg := newRegistry(nil, nil)
	m := NewManager(c, alarm.NewFacility(c, nil), reg, echoSpec(), nil, nil)

	require.Error(t, m.Teardown("instantiator", value.String("X")))
}

func TestReinstantiateAfterTeardownReusesDiscriminator(t *testing.T) {
	var starts, stops int
	c, _ := newParentCycle(t)
	reg := newRegistry(&starts, &stops)
	m := NewManager(c, alarm.NewFacility(c, nil), reg, echoSpec(), nil, nil)

	require.NoError(t, m.Instantiate("instantiator", value.String("X")))
	require.NoError(t, m.Teardown("instantiator", value.String("X")))
	require.NoError(t, m.FlushTeardowns())

	require.NoError(t, m.Instantiate("instantiator", value.String("X")))
	require.Equal(t, 2, starts)
	require.Equal(t, 1, m.ActiveCount())
}
