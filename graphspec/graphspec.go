// Package graphspec defines the declarative graph submission document: the
// YAML file an operator hands to cspctl describing a graph's nodes, edges,
// and adapter bindings, and the loader that validates it against a JSON
// schema before topology.Build ever sees it.
package graphspec

import (
	"github.com/c360/csp/edge"
	"github.com/c360/csp/node"
	"github.com/c360/csp/value"
)

// NodeSpec declares one node instance: its kind (looked up in the node
// registry) and its construction-time configuration.
type NodeSpec struct {
	ID     node.ID
	Kind   string
	Config value.Value
}

// ConsumerSpec is one subscriber of an EdgeSpec: which node, which input
// slot, and whether that subscription is active (causes a fire) or passive
// (visible but does not by itself cause a fire).
type ConsumerSpec struct {
	Node         node.ID
	InputIndex   int
	Active       bool
	HistoryDepth int
}

// EdgeSpec declares one edge: its producer and output slot, its value
// type, whether it is a feedback edge (escaping to the scheduler's
// secondary same-time pass rather than ordinary rank ordering), and every
// node subscribed to it. Nesting consumers under their edge, rather than
// one row per (producer, consumer) pair, is what lets topology.Build
// (and scheduler.NewCycle) build their edge.ID -> []consumer index
// directly off the document without a separate join.
type EdgeSpec struct {
	ID          edge.ID
	Producer    node.ID
	OutputIndex int
	Type        value.Type
	Feedback    bool
	Consumers   []ConsumerSpec
}

// AdapterDirection is the adapter contract kind a binding implements.
type AdapterDirection string

const (
	DirectionPull     AdapterDirection = "pull"
	DirectionPush     AdapterDirection = "push"
	DirectionPushPull AdapterDirection = "pushpull"
)

// AdapterSpec binds an external source or sink to a named edge.
type AdapterSpec struct {
	ID        string
	Kind      string // "nats", "websocket", "memory", ...
	Direction AdapterDirection
	Edge      edge.ID
	Config    value.Value
}

// SubGraphSpec declares a dynamically instantiatable sub-graph ("basket"):
// the nodes/edges instantiated fresh per discriminator value whenever
// Instantiator fires a node.Context.InstantiateSubGraph call.
type SubGraphSpec struct {
	Name         string
	Instantiator node.ID
	Nodes        []NodeSpec
	Edges        []EdgeSpec
}

// Graph is the fully parsed, schema-validated graph submission document.
type Graph struct {
	Nodes     []NodeSpec
	Edges     []EdgeSpec
	Adapters  []AdapterSpec
	SubGraphs []SubGraphSpec
}
