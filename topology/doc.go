// Package topology builds the wired, ranked node/edge graph the scheduler
// runs: it resolves every graphspec.NodeSpec's Behavior via a node.Registry,
// allocates and cross-wires every edge.Buffer, and assigns ranks by Kahn's
// algorithm over the non-feedback subgraph, rejecting any residual cycle.
//
// BuildFragment is factored out of Build so dynamic.Manager can reuse the
// identical wiring and rank-assignment logic to instantiate a sub-graph at
// runtime, offset above its instantiator's rank.
package topology
