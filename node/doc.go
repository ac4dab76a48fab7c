// Package node implements the engine's node runtime: the lifecycle,
// input/output wiring, and firing rule shared by every node kind, plus the
// Registry a deployment populates with its own node kind factories before
// building a graph's topology.
//
// node deliberately does not ship any node kind implementations of its
// own; which library nodes exist, and how they parse their configuration,
// is the embedding application's concern, not the engine core's. The
// compiled graph the engine consumes is what's specified here; the
// front-end surface that declares node kinds is out of scope.
package node

// DefaultRegistry returns a fresh, empty node kind Registry. It exists so
// a CLI entry point has somewhere to start before registering the node
// kinds its deployment actually uses.
func DefaultRegistry() *Registry {
	return NewRegistry()
}
