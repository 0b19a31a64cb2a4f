package engine

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/projector"
	"github.com/roach88/cookiechain/internal/queue"
	"github.com/roach88/cookiechain/internal/signer"
	"github.com/roach88/cookiechain/internal/tx"
)

// Request describes one operation to submit.
type Request struct {
	Kind tx.Kind
	Args []string

	// Delta is the optimistic prediction for this operation, if any.
	Delta *tx.Delta

	// DeltaApplied means the caller already added Delta to the projector
	// (the session does this at click time, before coalescing).
	DeltaApplied bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithContract overrides the contract operations are addressed to.
func WithContract(c ledger.Contract) ExecutorOption {
	return func(e *Executor) { e.contract = c }
}

// WithSubmitRate throttles dispatch to r operations per second with the
// given burst. r <= 0 disables throttling.
func WithSubmitRate(r float64, burst int) ExecutorOption {
	return func(e *Executor) {
		if r <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// Executor turns a Request into a queue record and a ledger submission.
//
// Submit never waits for finality: on a successful dispatch the record moves
// to submitted and a Watcher takes over.
type Executor struct {
	store     *queue.Store
	proj      *projector.Projector
	submitter ledger.Submitter
	watcher   *Watcher
	contract  ledger.Contract
	limiter   *rate.Limiter
}

// NewExecutor creates an executor.
func NewExecutor(store *queue.Store, proj *projector.Projector, sub ledger.Submitter, w *Watcher, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:     store,
		proj:      proj,
		submitter: sub,
		watcher:   w,
		contract:  ledger.DefaultContract(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit applies req's delta, records req as pending, and dispatches it
// through s. The delta is projected before the record is appended, so store
// observers never see a pending record without its prediction. A dispatch
// failure marks the record failed, rolls the delta back and is returned as
// a *tx.SigningError or *tx.SubmissionError.
func (e *Executor) Submit(ctx context.Context, s signer.Signer, req Request) (ledger.Handle, error) {
	op, err := e.contract.Operation(req.Kind, req.Args)
	if err != nil {
		if req.Delta != nil && req.DeltaApplied {
			e.proj.Rollback(*req.Delta)
		}
		return "", NewUnknownKindError(req.Kind, err)
	}

	var delta *tx.Delta
	rec := tx.Record{Kind: req.Kind}
	if req.Delta != nil {
		d := *req.Delta
		delta = &d
		rec.OptimisticDelta = &tx.Delta{Cookies: d.Cookies}
		if !req.DeltaApplied {
			e.proj.ApplyLocalDelta(d.Cookies)
		}
	}
	id, err := e.store.Append(rec)
	if err != nil {
		if delta != nil {
			e.proj.Rollback(*delta)
		}
		return "", err
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			serr := &tx.SubmissionError{Message: "submit throttled", Err: err}
			failRecord(e.store, e.proj, id, delta, serr)
			return "", serr
		}
	}

	h, err := s.SignAndSubmit(ctx, e.submitter, op)
	if err != nil {
		failRecord(e.store, e.proj, id, delta, err)
		slog.Info("operation dispatch failed", "record", id, "kind", req.Kind, "reason", tx.Classify(err), "error", err)
		return "", err
	}

	if err := e.store.Update(id, tx.SubmittedPatch(string(h))); err != nil {
		slog.Warn("mark record submitted", "record", id, "handle", h, "error", err)
	}
	slog.Debug("operation submitted", "record", id, "kind", req.Kind, "handle", h)

	e.watcher.Watch(ctx, h, id, delta)
	return h, nil
}
