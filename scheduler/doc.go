// Package scheduler is the engine's discrete-event heart. Queue is a plain
// container/heap priority queue of (time, rank, seq) ordered Events; Cycle
// layers graph awareness on top of it: an edge-to-consumer index and the
// per-time-step algorithm that applies every write due at the next engine
// time and fires every node it reaches, in ascending rank order, exactly
// once, before advancing to the next time.
//
// Cycle deliberately implements only the Now/Emit half of node.Runtime.
// The alarm and dynamic-graph half is implemented by the engine package,
// which embeds a Cycle alongside an alarm.Facility and a dynamic.Manager;
// this keeps scheduler ignorant of both, so the dependency graph among
// packages stays a line rather than a knot.
package scheduler
