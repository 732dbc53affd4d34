package engine

import "sync/atomic"

// Clock is a monotonic generation counter.
//
// Every candidate is stamped with a strictly increasing generation from the
// engine's clock, so candidate ids and artifact names never collide across
// lineages and a run's history can be ordered without wall-clock time.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific generation.
// Used when a run continues numbering from a previous one.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next generation and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last generation handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
