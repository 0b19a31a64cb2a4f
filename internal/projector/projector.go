// Package projector keeps the locally predicted cookie count that runs ahead
// of the last confirmed ledger read.
//
// The prediction moves up the instant the user acts and is reconciled when
// a confirmed read arrives. While operations are still in flight a lower
// confirmed value is not allowed to pull the projection down, because the
// read simply has not caught up with those operations yet. A failed
// operation's delta is rolled back explicitly.
package projector

import (
	"sync"

	"github.com/roach88/cookiechain/internal/tx"
)

// InFlightCounter reports how many operations have not settled.
// *queue.Store satisfies it; the engine session wraps it to also count
// clicks not yet batched by the coalescer.
type InFlightCounter interface {
	InFlight() int
}

// InFlightFunc adapts a plain function to InFlightCounter.
type InFlightFunc func() int

// InFlight implements InFlightCounter.
func (f InFlightFunc) InFlight() int { return f() }

// Projector is the optimistic counter. Safe for concurrent use.
type Projector struct {
	// notifyMu keeps observer callbacks in mutation order.
	notifyMu sync.Mutex

	mu        sync.Mutex
	value     int64
	inFlight  InFlightCounter
	observers []func(int64)
}

// New creates a projector starting at zero.
func New(inFlight InFlightCounter) *Projector {
	return &Projector{inFlight: inFlight}
}

// Subscribe registers fn to receive the value after every change.
func (p *Projector) Subscribe(fn func(int64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// Value returns the current projection.
func (p *Projector) Value() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// ApplyLocalDelta adds amount immediately.
func (p *Projector) ApplyLocalDelta(amount int64) int64 {
	return p.mutate(func(v int64) int64 { return v + amount })
}

// Rollback undoes a delta whose operation failed.
func (p *Projector) Rollback(d tx.Delta) int64 {
	return p.mutate(func(v int64) int64 { return v - d.Cookies })
}

// Reconcile folds in a confirmed ledger value.
//
// With nothing in flight the confirmed value wins outright, including when
// it is lower (a purchase spent cookies). With operations in flight the
// result is max(confirmed, projected) so the display never regresses.
func (p *Projector) Reconcile(confirmed int64) int64 {
	busy := p.inFlight != nil && p.inFlight.InFlight() > 0
	return p.mutate(func(v int64) int64 {
		if busy && v > confirmed {
			return v
		}
		return confirmed
	})
}

// Reset sets the value unconditionally (wallet disconnect clears to 0).
func (p *Projector) Reset(v int64) int64 {
	return p.mutate(func(int64) int64 { return v })
}

func (p *Projector) mutate(fn func(int64) int64) int64 {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	old := p.value
	p.value = fn(old)
	v := p.value
	var obs []func(int64)
	if v != old {
		obs = append(obs, p.observers...)
	}
	p.mu.Unlock()

	for _, o := range obs {
		o(v)
	}
	return v
}
