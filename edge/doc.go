// Package edge holds the engine's typed edges: fixed-capacity ring buffers
// of timestamped samples, one per edge, each owned by exactly one producer
// and read by any number of subscribers.
//
// Buffer is deliberately unsynchronized. Per the engine's concurrency
// model, every edge write happens on the single engine thread during a
// cycle; adapters cross into the engine through adapter.Manager's push lock
// before a Buffer is ever touched, so Buffer itself carries no mutex.
package edge
