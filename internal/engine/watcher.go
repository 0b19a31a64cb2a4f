package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/projector"
	"github.com/roach88/cookiechain/internal/queue"
	"github.com/roach88/cookiechain/internal/tx"
)

// DefaultFinalityTimeout bounds each finality wait.
const DefaultFinalityTimeout = 30 * time.Second

// DefaultRetainTerminal is how many settled records stay in the queue.
const DefaultRetainTerminal = 50

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithFinalityTimeout bounds each wait. Zero means unbounded.
func WithFinalityTimeout(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.timeout = d }
}

// WithRetainTerminal sets how many terminal records survive pruning after
// each settlement. Zero disables pruning.
func WithRetainTerminal(n int) WatcherOption {
	return func(w *Watcher) { w.retain = n }
}

// WithSettleHook registers fn to run after every settlement.
func WithSettleHook(fn func(Settlement)) WatcherOption {
	return func(w *Watcher) { w.onSettle = fn }
}

// Watcher tracks submitted operations to a terminal status. Each Watch runs
// on its own goroutine and its only side effects are a queue store update,
// a projector rollback on failure, pruning, and the settle hook.
type Watcher struct {
	store    *queue.Store
	proj     *projector.Projector
	waiter   ledger.FinalityWaiter
	timeout  time.Duration
	retain   int
	onSettle func(Settlement)

	wg     sync.WaitGroup
	active atomic.Int64
}

// NewWatcher creates a watcher.
func NewWatcher(store *queue.Store, proj *projector.Projector, waiter ledger.FinalityWaiter, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		store:   store,
		proj:    proj,
		waiter:  waiter,
		timeout: DefaultFinalityTimeout,
		retain:  DefaultRetainTerminal,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts tracking h for record id and returns immediately. The wait
// is detached from ctx cancellation; only the finality timeout bounds it.
// delta is what the dispatch added to the projector, nil if nothing.
func (w *Watcher) Watch(ctx context.Context, h ledger.Handle, id string, delta *tx.Delta) {
	w.wg.Add(1)
	w.active.Add(1)
	wctx := context.WithoutCancel(ctx)

	go func() {
		defer w.wg.Done()
		defer w.active.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("watcher panicked", "record", id, "handle", h, "panic", fmt.Sprint(r))
			}
		}()
		w.settle(wctx, h, id, delta)
	}()
}

// Wait blocks until every started watch has settled.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

// Active returns the number of unsettled watches.
func (w *Watcher) Active() int {
	return int(w.active.Load())
}

func (w *Watcher) settle(ctx context.Context, h ledger.Handle, id string, delta *tx.Delta) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	err := w.waiter.WaitForFinality(ctx, h)
	s := Settlement{RecordID: id, Handle: h, Err: err}

	if err == nil {
		s.Status = tx.StatusConfirmed
		if uerr := w.store.Update(id, tx.StatusPatch(tx.StatusConfirmed)); uerr != nil {
			slog.Warn("confirm record", "record", id, "handle", h, "error", uerr)
		}
		slog.Debug("operation confirmed", "record", id, "handle", h)
	} else {
		s.Status = tx.StatusFailed
		failRecord(w.store, w.proj, id, delta, err)
		slog.Info("operation failed after submission", "record", id, "handle", h, "reason", tx.Classify(err), "error", err)
	}

	if w.retain > 0 {
		if n := w.store.PruneTerminal(w.retain); n > 0 {
			slog.Debug("pruned settled records", "count", n)
		}
	}
	if w.onSettle != nil {
		w.onSettle(s)
	}
}

// failRecord moves id to failed and rolls back the delta its dispatch
// applied. The rollback happens only when this call performed the
// transition or the record is no longer in the store, so a delta is never
// rolled back twice and never leaks when the record was removed early.
func failRecord(store *queue.Store, proj *projector.Projector, id string, delta *tx.Delta, cause error) {
	if rec, ok := store.Get(id); ok {
		if rec.Status.Terminal() {
			return
		}
		if err := store.Update(id, tx.FailedPatch(tx.Classify(cause))); err != nil {
			slog.Warn("fail record", "record", id, "error", err)
			return
		}
		if rec.OptimisticDelta != nil {
			delta = rec.OptimisticDelta
		}
	} else if delta != nil {
		slog.Debug("rolling back removed record", "record", id)
	}
	if delta != nil && proj != nil {
		proj.Rollback(*delta)
	}
}
