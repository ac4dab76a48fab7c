// Package memory provides a dependency-free Pull adapter over a pre-sorted
// in-memory slice of ticks, used by engine and scheduler tests and by
// simulation-mode examples that have no external system to bind to.
package memory

import (
	"context"
	"fmt"

	"github.com/c360/csp/edge"
	"github.com/c360/csp/errors"
	"github.com/c360/csp/value"
)

// Tick is one (time, value) sample in a Source's replay sequence.
type Tick struct {
	Time  edge.Time
	Value value.Value
}

// Source is a Pull adapter over a fixed, caller-supplied sequence of ticks.
// It does not copy the slice; callers must not mutate it after NewSource.
type Source struct {
	ticks []Tick
	pos   int
}

// NewSource builds a Source over ticks, which must already be sorted by
// non-decreasing Time; the same monotonicity the Pull contract requires
// of every adapter implementation.
func NewSource(ticks []Tick) *Source {
	return &Source{ticks: ticks}
}

// Open resets the cursor to the beginning of the sequence.
func (s *Source) Open(_ context.Context) error {
	s.pos = 0
	return nil
}

// Next returns the next tick, or hasMore=false once the sequence is spent.
func (s *Source) Next(_ context.Context) (t edge.Time, v value.Value, hasMore bool, err error) {
	if s.pos >= len(s.ticks) {
		return 0, value.Value{}, false, nil
	}
	tk := s.ticks[s.pos]
	if s.pos > 0 && tk.Time < s.ticks[s.pos-1].Time {
		return 0, value.Value{}, false, errors.WrapFatal(errors.ErrAdapterSource, "adapter/memory", "Next",
			fmt.Sprintf("tick at index %d has non-monotonic time %d", s.pos, tk.Time))
	}
	s.pos++
	return tk.Time, tk.Value, true, nil
}

// Close is a no-op; Source holds no external resource.
func (s *Source) Close() error { return nil }
