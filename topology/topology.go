// Package topology turns a graphspec.Graph into a wired, ranked set of
// node.Instances: it constructs each node's Behavior via the registry,
// allocates and wires every edge.Buffer, assigns each node's intra-cycle
// firing rank by Kahn's algorithm (ignoring feedback edges), and rejects a
// document whose non-feedback edges still contain a cycle.
package topology

import (
	"fmt"
	"sort"

	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/graphspec"
	"github.com/c360/csp/metric"
	"github.com/c360/csp/node"
)

// Graph is the engine-ready result of building a graphspec.Graph: every
// node instance, keyed and ranked, every edge buffer, and which edges are
// feedback edges; exactly what scheduler.NewCycle and engine.New need.
type Graph struct {
	nodes     map[node.ID]*node.Instance
	ordered   []*node.Instance // ascending rank
	edges     map[edge.ID]*edge.Buffer
	feedback  map[edge.ID]bool
	adapters  []graphspec.AdapterSpec
	subGraphs []graphspec.SubGraphSpec
	registry  *node.Registry
}

// Nodes returns every node instance, ascending by rank.
func (g *Graph) Nodes() []*node.Instance { return g.ordered }

// NodeByID looks up a node instance by id.
func (g *Graph) NodeByID(id node.ID) (*node.Instance, bool) {
	inst, ok := g.nodes[id]
	return inst, ok
}

// EdgeByID looks up an edge buffer by id.
func (g *Graph) EdgeByID(id edge.ID) (*edge.Buffer, bool) {
	b, ok := g.edges[id]
	return b, ok
}

// FeedbackEdges reports which edge IDs are feedback edges.
func (g *Graph) FeedbackEdges() map[edge.ID]bool { return g.feedback }

// Adapters returns the adapter bindings declared in the document.
func (g *Graph) Adapters() []graphspec.AdapterSpec { return g.adapters }

// SubGraphs returns the dynamic sub-graph ("basket") declarations in the
// document, for dynamic.Manager to index by instantiator. Build does not
// construct any of them itself; they are instantiated on demand.
func (g *Graph) SubGraphs() []graphspec.SubGraphSpec { return g.subGraphs }

// Registry returns the node kind registry used to build this Graph, so
// dynamic.Manager can construct sub-graph node instances with the same
// factories the static graph used.
func (g *Graph) Registry() *node.Registry { return g.registry }

// Build constructs a Graph from doc using registry to instantiate node
// Behaviors. It does not build any declared sub-graphs; those are
// instantiated on demand by dynamic.Manager via BuildFragment.
func Build(doc *graphspec.Graph, registry *node.Registry) (*Graph, error) {
	return buildWithMetrics(doc, registry, nil, 0)
}

// BuildWithMetrics is Build with a metrics collector threaded into every
// constructed edge.Buffer and node.Instance, for a production engine run
// where build-time edges must report occupancy from their first write.
func BuildWithMetrics(doc *graphspec.Graph, registry *node.Registry, metrics *metric.Metrics) (*Graph, error) {
	return buildWithMetrics(doc, registry, metrics, 0)
}

func buildWithMetrics(doc *graphspec.Graph, registry *node.Registry, metrics *metric.Metrics, rankOffset int) (*Graph, error) {
	frag, err := BuildFragment(doc.Nodes, doc.Edges, registry, metrics, rankOffset)
	if err != nil {
		return nil, err
	}
	frag.adapters = doc.Adapters
	frag.subGraphs = doc.SubGraphs
	frag.registry = registry
	return frag, nil
}

// BuildFragment wires a standalone set of nodes/edges into a Graph,
// assigning ranks starting at rankOffset. It contains the entirety of the
// wiring/validation/rank-assignment algorithm, factored out of Build so
// dynamic.Manager can reuse it verbatim to instantiate a sub-graph
// ("basket") at runtime, offsetting its ranks above its instantiator's.
func BuildFragment(nodeSpecs []graphspec.NodeSpec, edgeSpecs []graphspec.EdgeSpec, registry *node.Registry, metrics *metric.Metrics, rankOffset int) (*Graph, error) {
	g := &Graph{
		nodes:    make(map[node.ID]*node.Instance, len(nodeSpecs)),
		edges:    make(map[edge.ID]*edge.Buffer, len(edgeSpecs)),
		feedback: make(map[edge.ID]bool),
	}

	inputCounts, outputCounts, err := countPorts(nodeSpecs, edgeSpecs)
	if err != nil {
		return nil, err
	}

	behaviors := make(map[node.ID]node.Behavior, len(nodeSpecs))
	for _, ns := range nodeSpecs {
		if _, dup := behaviors[ns.ID]; dup {
			return nil, buildErr(errors.ErrDuplicateEdge, fmt.Sprintf("node %q declared more than once", ns.ID))
		}
		behavior, err := registry.Create(ns.Kind, ns.Config)
		if err != nil {
			return nil, errors.Wrap(err, "topology", "BuildFragment", fmt.Sprintf("constructing node %q", ns.ID))
		}
		behaviors[ns.ID] = behavior
	}

	// Allocate every edge buffer before any node.Instance is built, since
	// an Instance's Subscription slice is immutable once constructed. No
	// type check is made here: consumers declare no type of their own, so
	// ErrTypeMismatch is never raised.
	type wiredEdge struct {
		spec graphspec.EdgeSpec
		buf  *edge.Buffer
	}
	wired := make(map[edge.ID]*wiredEdge, len(edgeSpecs))
	for _, es := range edgeSpecs {
		if _, dup := wired[es.ID]; dup {
			return nil, buildErr(errors.ErrDuplicateEdge, fmt.Sprintf("edge %q declared more than once", es.ID))
		}
		if _, known := behaviors[es.Producer]; !known {
			return nil, buildErr(errors.ErrUnwiredInput, fmt.Sprintf("edge %q: producer %q is not a declared node", es.ID, es.Producer))
		}
		capacity := maxHistoryDepth(es.Consumers) + 1
		buf := edge.NewBuffer(es.ID, es.Type, capacity, metrics)
		wired[es.ID] = &wiredEdge{spec: es, buf: buf}
		g.edges[es.ID] = buf
		if es.Feedback {
			g.feedback[es.ID] = true
		}
	}

	// Build each node's input subscription table and output slice from the
	// wired edges, validating every consumer reference.
	inputsByNode := make(map[node.ID][]node.Subscription, len(nodeSpecs))
	outputsByNode := make(map[node.ID][]*edge.Buffer, len(nodeSpecs))
	for id := range behaviors {
		inputsByNode[id] = make([]node.Subscription, inputCounts[id])
		outputsByNode[id] = make([]*edge.Buffer, outputCounts[id])
	}

	for _, we := range wired {
		es := we.spec
		if es.OutputIndex < 0 || es.OutputIndex >= len(outputsByNode[es.Producer]) {
			return nil, buildErr(errors.ErrUnwiredInput,
				fmt.Sprintf("edge %q: producer %q has no output slot %d", es.ID, es.Producer, es.OutputIndex))
		}
		outputsByNode[es.Producer][es.OutputIndex] = we.buf

		for _, cons := range es.Consumers {
			if _, known := behaviors[cons.Node]; !known {
				return nil, buildErr(errors.ErrUnwiredInput,
					fmt.Sprintf("edge %q: consumer %q is not a declared node", es.ID, cons.Node))
			}
			subs := inputsByNode[cons.Node]
			if cons.InputIndex < 0 || cons.InputIndex >= len(subs) {
				return nil, buildErr(errors.ErrUnwiredInput,
					fmt.Sprintf("edge %q: consumer %q has no input slot %d", es.ID, cons.Node, cons.InputIndex))
			}
			if subs[cons.InputIndex].Edge != nil {
				return nil, buildErr(errors.ErrDuplicateEdge,
					fmt.Sprintf("node %q input %d is wired more than once", cons.Node, cons.InputIndex))
			}
			subs[cons.InputIndex] = node.Subscription{
				Edge:         we.buf,
				Active:       cons.Active,
				HistoryDepth: cons.HistoryDepth,
			}
		}
	}

	for id, subs := range inputsByNode {
		for i, s := range subs {
			if s.Edge == nil {
				return nil, buildErr(errors.ErrUnwiredInput, fmt.Sprintf("node %q input %d is never wired", id, i))
			}
		}
	}

	for id, behavior := range behaviors {
		inst := node.NewInstance(id, kindOf(nodeSpecs, id), behavior, inputsByNode[id], outputsByNode[id], metrics)
		g.nodes[id] = inst
	}

	ranks, err := assignRanks(g.nodes, edgeSpecs, g.feedback, rankOffset)
	if err != nil {
		return nil, err
	}
	for id, r := range ranks {
		g.nodes[id].SetRank(r)
	}

	g.ordered = sortedByRank(g.nodes)
	return g, nil
}

func kindOf(specs []graphspec.NodeSpec, id node.ID) string {
	for _, s := range specs {
		if s.ID == id {
			return s.Kind
		}
	}
	return ""
}

func maxHistoryDepth(consumers []graphspec.ConsumerSpec) int {
	max := 0
	for _, c := range consumers {
		if c.HistoryDepth > max {
			max = c.HistoryDepth
		}
	}
	return max
}

// countPorts scans the declared edges to find, for each node, the highest
// output/input slot index referenced, so a node's Outputs()/Inputs()
// slices can be preallocated to the exact declared width.
func countPorts(nodeSpecs []graphspec.NodeSpec, edgeSpecs []graphspec.EdgeSpec) (inputs, outputs map[node.ID]int, err error) {
	inputs = make(map[node.ID]int, len(nodeSpecs))
	outputs = make(map[node.ID]int, len(nodeSpecs))
	for _, ns := range nodeSpecs {
		inputs[ns.ID] = 0
		outputs[ns.ID] = 0
	}
	for _, es := range edgeSpecs {
		if es.OutputIndex+1 > outputs[es.Producer] {
			outputs[es.Producer] = es.OutputIndex + 1
		}
		for _, c := range es.Consumers {
			if c.InputIndex+1 > inputs[c.Node] {
				inputs[c.Node] = c.InputIndex + 1
			}
		}
	}
	return inputs, outputs, nil
}

func buildErr(sentinel error, detail string) error {
	return errors.WrapFatal(fmt.Errorf("%s: %w", detail, sentinel), "topology", "BuildFragment", detail)
}

func sortedByRank(nodes map[node.ID]*node.Instance) []*node.Instance {
	out := make([]*node.Instance, 0, len(nodes))
	for _, inst := range nodes {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank() != out[j].Rank() {
			return out[i].Rank() < out[j].Rank()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}
