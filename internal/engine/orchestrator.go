package engine

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/signer"
	"github.com/roach88/cookiechain/internal/tx"
)

// DefaultMaxInFlight caps concurrent dispatches within one batch.
const DefaultMaxInFlight = 16

// Orchestrator fans a batch of same-kind operations out concurrently.
type Orchestrator struct {
	exec        *Executor
	maxInFlight int
}

// NewOrchestrator creates an orchestrator. maxInFlight <= 0 means no cap.
func NewOrchestrator(exec *Executor, maxInFlight int) *Orchestrator {
	return &Orchestrator{exec: exec, maxInFlight: maxInFlight}
}

// SubmitBatch submits count operations of kind and waits for every dispatch
// to settle. build supplies the per-index request (args and delta); its
// Kind is overridden with kind. A nil build submits bare requests.
//
// One item failing never affects another: failures show up as failed
// records in the queue store and are simply absent from the returned
// handles, which are in index order. The error is non-nil only when the
// batch cannot start.
func (o *Orchestrator) SubmitBatch(ctx context.Context, s signer.Signer, kind tx.Kind, count int, build func(i int) Request) ([]ledger.Handle, error) {
	if count < 0 {
		return nil, NewBatchError(kind, count)
	}
	if count == 0 {
		return nil, nil
	}

	results := make([]ledger.Handle, count)
	var g errgroup.Group
	if o.maxInFlight > 0 {
		g.SetLimit(o.maxInFlight)
	}

	for i := 0; i < count; i++ {
		req := Request{}
		if build != nil {
			req = build(i)
		}
		req.Kind = kind
		g.Go(func() error {
			h, err := o.exec.Submit(ctx, s, req)
			if err == nil {
				results[i] = h
			}
			return nil
		})
	}
	_ = g.Wait()

	handles := make([]ledger.Handle, 0, count)
	for _, h := range results {
		if h != "" {
			handles = append(handles, h)
		}
	}
	if failed := count - len(handles); failed > 0 {
		slog.Info("batch dispatched with failures", "kind", kind, "count", count, "failed", failed)
	} else {
		slog.Debug("batch dispatched", "kind", kind, "count", count)
	}
	return handles, nil
}
