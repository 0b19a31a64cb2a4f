package engine

import (
	"sync"

	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/tx"
)

// Settlement describes one record reaching a terminal status.
type Settlement struct {
	RecordID string
	Handle   ledger.Handle
	Status   tx.Status
	Err      error
}

// settleQueue is a thread-safe FIFO of settlements. Watchers enqueue from
// their own goroutines; the session's Run loop waits on the signal channel
// and drains everything at once before refreshing.
//
// The signal channel has a buffer of 1 so bursts of settlements collapse
// into a single wake-up.
type settleQueue struct {
	mu     sync.Mutex
	items  []Settlement
	closed bool
	signal chan struct{}
}

func newSettleQueue() *settleQueue {
	return &settleQueue{
		items:  make([]Settlement, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a settlement. Returns false once the queue is closed.
func (q *settleQueue) Enqueue(s Settlement) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, s)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns everything queued.
func (q *settleQueue) Drain() []Settlement {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]Settlement, 0, 16)
	return out
}

// Wait returns a channel that signals when settlements may be available.
// It is closed when the queue is closed.
func (q *settleQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued settlements.
func (q *settleQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all waiters; later Enqueue calls are dropped.
func (q *settleQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
