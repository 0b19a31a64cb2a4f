package engine

import (
	"sync"
	"time"
)

// DefaultCoalesceWindow is the debounce window between rapid triggers.
const DefaultCoalesceWindow = 100 * time.Millisecond

// DefaultMaxBurst flushes a burst early once it reaches this size.
const DefaultMaxBurst = 10

// BatchFunc receives the number of triggers collected into one batch.
type BatchFunc func(count int)

// Coalescer collapses rapid triggers into batches. Each Trigger restarts a
// debounce timer; when the timer fires, or the accumulated count reaches
// maxBurst, the count is handed to the batch function on its own goroutine
// and the accumulator starts over.
type Coalescer struct {
	mu       sync.Mutex
	idle     *sync.Cond
	window   time.Duration
	maxBurst int
	fn       BatchFunc

	count    int // accumulated, not yet flushed
	flushing int // handed to fn, fn not yet returned
	gen      uint64
	timer    *time.Timer
	stopped  bool
}

// NewCoalescer creates a coalescer. maxBurst <= 0 disables early flushing.
func NewCoalescer(window time.Duration, maxBurst int, fn BatchFunc) *Coalescer {
	c := &Coalescer{window: window, maxBurst: maxBurst, fn: fn}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// Trigger records one event. Returns false if the coalescer is stopped.
func (c *Coalescer) Trigger() bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.count++
	if c.maxBurst > 0 && c.count >= c.maxBurst {
		n := c.takeLocked()
		c.mu.Unlock()
		c.dispatch(n)
		return true
	}

	if c.timer != nil {
		c.timer.Stop()
	}
	gen := c.gen
	c.timer = time.AfterFunc(c.window, func() { c.fire(gen) })
	c.mu.Unlock()
	return true
}

// Pending returns triggers accumulated or still being dispatched.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count + c.flushing
}

// Flush dispatches whatever has accumulated without waiting for the window
// and blocks until every dispatched batch has returned.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	n := c.takeLocked()
	c.mu.Unlock()
	if n > 0 {
		c.dispatch(n)
	}

	c.mu.Lock()
	for c.flushing > 0 {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// Stop flushes the remainder, waits for running batches, and rejects
// further triggers.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.Flush()
}

func (c *Coalescer) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	n := c.takeLocked()
	c.mu.Unlock()
	if n > 0 {
		c.dispatch(n)
	}
}

// takeLocked moves the accumulator into flushing and invalidates any armed
// timer.
func (c *Coalescer) takeLocked() int {
	n := c.count
	c.count = 0
	c.flushing += n
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	return n
}

func (c *Coalescer) dispatch(n int) {
	go func() {
		defer func() {
			c.mu.Lock()
			c.flushing -= n
			if c.flushing == 0 {
				c.idle.Broadcast()
			}
			c.mu.Unlock()
		}()
		c.fn(n)
	}()
}
