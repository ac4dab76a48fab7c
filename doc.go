// Package csp implements a complex streaming processor engine: a
// discrete-event graph of typed edges and stateful nodes, driven either by
// wall-clock time or by a deterministic simulation clock.
//
// # Architecture
//
// A graph is built once, at start time, from a declarative document (see
// graphspec) and never mutated except through the dynamic package's
// sub-graph instantiation. The build assigns every node a topological rank
// via Kahn's algorithm (topology) so the scheduler (scheduler) can fire
// nodes in dependency order within a single logical instant, falling back
// to a secondary feedback queue for edges that close a cycle.
//
//	┌──────────────┐
//	│  graphspec    │  declarative graph document (YAML/JSON)
//	└──────┬───────┘
//	       │ build
//	┌──────▼───────┐
//	│  topology     │  rank assignment, cycle detection, feedback edges
//	└──────┬───────┘
//	       │ drives
//	┌──────▼───────┐     ┌─────────┐     ┌────────┐
//	│  scheduler    │◄────┤  alarm  │     │  node  │
//	│ (event queue) │     │ (ticks) │────▶│ (fire) │
//	└──────┬───────┘     └─────────┘     └────────┘
//	       │ bridges
//	┌──────▼───────┐
//	│  adapter      │  pull / push / push-pull boundary with the outside world
//	└──────┬───────┘
//	       │ concrete bindings
//	  nats, websocket, memory
//
// engine composes the scheduler, alarm facility, dynamic sub-graph manager,
// and adapter manager into a running process with two modes:
//
//   - Real-time: engine time tracks wall-clock time; the run loop sleeps
//     until the next scheduled event or adapter tick.
//   - Simulation: engine time advances directly to the next scheduled
//     event with no wall-clock sleep, for deterministic, fast-forward runs.
//
// # Data model
//
// Every value flowing through an edge is a value.Value: a closed set of
// scalar, struct, array, and enum kinds carried end to end with no
// reflection on the hot path. edge.Buffer is the fixed-capacity ring buffer
// behind each edge, recording the time of the edge's last tick (one per
// edge, shared by all its consumers); together with the scheduler's
// per-cycle bookkeeping, a node fires at most once per instant even when
// several of its inputs tick together.
//
// # Dynamic sub-graphs
//
// A node can declare itself the instantiator of a named sub-graph; calling
// node.Context.InstantiateSubGraph at runtime builds and wires a fresh copy
// of that sub-graph into the running topology, keyed by a discriminator
// value, with its own rank range spliced in above its instantiator's rank.
// dynamic.Manager owns this lifecycle, including deferred teardown so an
// instance's nodes finish the cycle they were torn down in before being
// removed.
//
// # Ambient stack
//
// Structured logging uses log/slog, errors carry a three-class taxonomy
// (errors) distinguishing build/start failures from recoverable and fatal
// runtime errors, and metric wraps a Prometheus registry for scheduler
// depth, node fire counts, and adapter lag. cmd/cspctl is the process entry
// point: it loads a graph document, builds it, and runs the engine to
// completion or until interrupted.
package csp
