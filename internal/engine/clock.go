package engine

import "sync/atomic"

// Clock is a monotonic logical counter. The session stamps every View it
// publishes with Clock.Next so a consumer that receives views from several
// goroutines can discard one older than what it already rendered.
//
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
