package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/projector"
	"github.com/roach88/cookiechain/internal/queue"
	"github.com/roach88/cookiechain/internal/signer"
	"github.com/roach88/cookiechain/internal/tx"
)

// DefaultRefreshInterval is how often Run re-reads confirmed state.
const DefaultRefreshInterval = 5 * time.Second

// Ledger is everything a session needs from the remote ledger.
type Ledger interface {
	ledger.Submitter
	ledger.FinalityWaiter
	ledger.StateReader
}

// Journal persists queue snapshots. *store.Store implements it.
type Journal interface {
	SyncSnapshot(ctx context.Context, records []tx.Record) error
}

// Config tunes a session.
type Config struct {
	FinalityTimeout time.Duration
	RefreshInterval time.Duration
	CoalesceWindow  time.Duration
	MaxBurst        int
	MaxInFlight     int
	SubmitRate      float64 // operations per second, 0 = unthrottled
	RetainTerminal  int
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		FinalityTimeout: DefaultFinalityTimeout,
		RefreshInterval: DefaultRefreshInterval,
		CoalesceWindow:  DefaultCoalesceWindow,
		MaxBurst:        DefaultMaxBurst,
		MaxInFlight:     DefaultMaxInFlight,
		RetainTerminal:  DefaultRetainTerminal,
	}
}

// View is what a renderer needs, pushed on every change.
type View struct {
	Seq           int64        `json:"seq"`
	Address       string       `json:"address,omitempty"`
	Initialized   bool         `json:"initialized"`
	Optimistic    int64        `json:"optimistic"`
	Pending       int          `json:"pending"`
	PendingClicks int          `json:"pending_clicks"`
	Stats         ledger.Stats `json:"stats"`
	Records       []tx.Record  `json:"records"`
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	store    *queue.Store
	journal  Journal
	contract *ledger.Contract
}

// WithQueue supplies a pre-built queue store (custom ID generator, clock).
func WithQueue(s *queue.Store) SessionOption {
	return func(o *sessionOptions) { o.store = s }
}

// WithJournal persists the queue on Checkpoint.
func WithJournal(j Journal) SessionOption {
	return func(o *sessionOptions) { o.journal = j }
}

// WithSessionContract addresses operations to c.
func WithSessionContract(c ledger.Contract) SessionOption {
	return func(o *sessionOptions) { o.contract = &c }
}

// Session wires the queue store, projector, executor, watcher, orchestrator
// and coalescer together for one player.
//
// Clicks are applied to the projector at once and coalesced into batches.
// Purchases and other single-shot operations are submitted directly and
// return the ledger's verdict on dispatch; finality arrives later through
// the watcher.
type Session struct {
	ledger   Ledger
	identity *signer.Identity
	cfg      Config
	journal  Journal

	store    *queue.Store
	proj     *projector.Projector
	watcher  *Watcher
	exec     *Executor
	orch     *Orchestrator
	coal     *Coalescer
	settled  *settleQueue
	clock    *Clock

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	clicks      []int64 // per-click deltas awaiting a batch, FIFO
	stats       ledger.Stats
	initialized bool
	records     []tx.Record

	notifyMu sync.Mutex
	subs     []func(View)
}

// NewSession builds a session over l. identity decides who signs.
func NewSession(l Ledger, identity *signer.Identity, cfg Config, opts ...SessionOption) *Session {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = queue.New()
	}

	s := &Session{
		ledger:   l,
		identity: identity,
		cfg:      cfg,
		journal:  o.journal,
		store:    o.store,
		settled:  newSettleQueue(),
		clock:    NewClock(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.coal = NewCoalescer(cfg.CoalesceWindow, cfg.MaxBurst, s.flushClicks)
	// A click is predicted before the coalescer counts it.
	s.proj = projector.New(projector.InFlightFunc(func() int {
		s.mu.Lock()
		queued := len(s.clicks)
		s.mu.Unlock()
		return s.store.InFlight() + s.coal.Pending() + queued
	}))
	s.watcher = NewWatcher(s.store, s.proj, l,
		WithFinalityTimeout(cfg.FinalityTimeout),
		WithRetainTerminal(cfg.RetainTerminal),
		WithSettleHook(func(st Settlement) { s.settled.Enqueue(st) }),
	)

	execOpts := []ExecutorOption{WithSubmitRate(cfg.SubmitRate, cfg.MaxBurst)}
	if o.contract != nil {
		execOpts = append(execOpts, WithContract(*o.contract))
	}
	s.exec = NewExecutor(s.store, s.proj, l, s.watcher, execOpts...)
	s.orch = NewOrchestrator(s.exec, cfg.MaxInFlight)

	s.records = s.store.Snapshot()
	s.store.Subscribe(func(snap []tx.Record) {
		s.mu.Lock()
		s.records = snap
		s.mu.Unlock()
		s.publish()
	})
	s.proj.Subscribe(func(int64) { s.publish() })
	return s
}

// Store exposes the queue store.
func (s *Session) Store() *queue.Store { return s.store }

// Projector exposes the optimistic counter.
func (s *Session) Projector() *projector.Projector { return s.proj }

// Orchestrator exposes the batch orchestrator.
func (s *Session) Orchestrator() *Orchestrator { return s.orch }

// Subscribe registers fn to receive every View.
func (s *Session) Subscribe(fn func(View)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.subs = append(s.subs, fn)
}

// View returns the current view.
func (s *Session) View() View {
	return s.buildView(s.clock.Current())
}

// Click predicts one click locally and hands it to the coalescer.
func (s *Session) Click() error {
	s.mu.Lock()
	mult := s.stats.ClickMultiplier
	if mult < 1 {
		mult = 1
	}
	s.clicks = append(s.clicks, mult)
	s.mu.Unlock()

	s.proj.ApplyLocalDelta(mult)
	if !s.coal.Trigger() {
		s.mu.Lock()
		s.clicks = s.clicks[:len(s.clicks)-1]
		s.mu.Unlock()
		s.proj.Rollback(tx.Delta{Cookies: mult})
		return errStopped
	}
	s.publish()
	return nil
}

// BuyUpgrade purchases upgrade id. Affordability is left to the contract.
func (s *Session) BuyUpgrade(ctx context.Context, id int) (ledger.Handle, error) {
	return s.submit(ctx, Request{Kind: tx.KindUpgrade, Args: []string{strconv.Itoa(id)}})
}

// BuyAutoClicker purchases qty auto clickers of typeID.
func (s *Session) BuyAutoClicker(ctx context.Context, typeID, qty int) (ledger.Handle, error) {
	return s.submit(ctx, Request{
		Kind: tx.KindAutoClicker,
		Args: []string{strconv.Itoa(typeID), strconv.Itoa(qty)},
	})
}

// CollectPassive claims passively accrued cookies.
func (s *Session) CollectPassive(ctx context.Context) (ledger.Handle, error) {
	return s.submit(ctx, Request{Kind: tx.KindCollectPassive})
}

// Prestige resets progress for a permanent multiplier.
func (s *Session) Prestige(ctx context.Context) (ledger.Handle, error) {
	return s.submit(ctx, Request{Kind: tx.KindPrestige})
}

// Initialize creates the player record and, unlike other operations, waits
// for finality before refreshing.
func (s *Session) Initialize(ctx context.Context) error {
	h, err := s.submit(ctx, Request{Kind: tx.KindInitialize})
	if err != nil {
		return err
	}

	wctx := ctx
	if s.cfg.FinalityTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, s.cfg.FinalityTimeout)
		defer cancel()
	}
	if err := s.ledger.WaitForFinality(wctx, h); err != nil {
		return fmt.Errorf("initialize player: %w", err)
	}
	return s.Refresh(ctx)
}

// Refresh reads confirmed state and reconciles the projector. An address
// without a player record leaves the session uninitialized and is not an
// error.
func (s *Session) Refresh(ctx context.Context) error {
	s.settled.Drain()

	sg, err := s.identity.Active()
	if err != nil {
		return err
	}
	stats, err := s.ledger.ReadConfirmedState(ctx, sg.Address())
	if errors.Is(err, ledger.ErrNotInitialized) {
		s.mu.Lock()
		s.initialized = false
		s.stats = ledger.Stats{}
		s.mu.Unlock()
		s.publish()
		return nil
	}
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	s.mu.Lock()
	s.initialized = true
	s.stats = stats
	s.mu.Unlock()

	s.proj.Reconcile(stats.TotalCookies)
	s.publish()
	return nil
}

// Run refreshes on every tick and whenever operations settle, until ctx is
// done.
func (s *Session) Run(ctx context.Context) error {
	interval := s.cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.Refresh(ctx); err != nil {
		slog.Warn("refresh failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case _, ok := <-s.settled.Wait():
			if !ok {
				return nil
			}
			if err := s.Checkpoint(ctx); err != nil {
				slog.Warn("checkpoint failed", "error", err)
			}
		}
		if err := s.Refresh(ctx); err != nil {
			slog.Warn("refresh failed", "error", err)
		}
	}
}

// Resume restores journaled records. Submitted records are watched again;
// pending ones never reached the ledger and are failed as interrupted.
// Restored deltas are dropped since this process never applied them.
func (s *Session) Resume(ctx context.Context, recs []tx.Record) int {
	restored := make([]tx.Record, len(recs))
	for i, r := range recs {
		r = r.Clone()
		r.OptimisticDelta = nil
		restored[i] = r
	}
	n := s.store.Restore(restored)

	for _, r := range restored {
		switch r.Status {
		case tx.StatusSubmitted:
			if r.LedgerHandle != "" {
				s.watcher.Watch(ctx, ledger.Handle(r.LedgerHandle), r.ID, nil)
			}
		case tx.StatusPending:
			if err := s.store.Update(r.ID, tx.FailedPatch(tx.ReasonInterrupted)); err != nil {
				slog.Warn("fail interrupted record", "record", r.ID, "error", err)
			}
		}
	}
	slog.Debug("resumed journal", "records", n)
	return n
}

// Checkpoint writes the queue to the journal, if one is configured.
func (s *Session) Checkpoint(ctx context.Context) error {
	if s.journal == nil {
		return nil
	}
	return s.journal.SyncSnapshot(ctx, s.store.Snapshot())
}

// Disconnect drops the external wallet and clears the local prediction.
func (s *Session) Disconnect() {
	s.identity.DisconnectWallet()
	s.mu.Lock()
	s.stats = ledger.Stats{}
	s.initialized = false
	s.mu.Unlock()
	s.proj.Reset(0)
}

// Flush dispatches buffered clicks now and returns once their batch has
// been submitted. It does not wait for finality.
func (s *Session) Flush() {
	s.coal.Flush()
}

// Wait blocks until every watched record has settled.
func (s *Session) Wait() {
	s.watcher.Wait()
}

// Drain flushes pending clicks and waits for every watcher to settle.
func (s *Session) Drain() {
	s.Flush()
	s.Wait()
}

// Close drains, writes a final checkpoint and stops accepting clicks.
func (s *Session) Close(ctx context.Context) error {
	s.coal.Stop()
	s.watcher.Wait()
	s.settled.Close()
	defer s.cancel()
	return s.Checkpoint(ctx)
}

func (s *Session) submit(ctx context.Context, req Request) (ledger.Handle, error) {
	sg, err := s.identity.Active()
	if err != nil {
		return "", err
	}
	return s.exec.Submit(ctx, sg, req)
}

// flushClicks is the coalescer's batch function.
func (s *Session) flushClicks(n int) {
	s.mu.Lock()
	if n > len(s.clicks) {
		n = len(s.clicks)
	}
	deltas := make([]int64, n)
	copy(deltas, s.clicks[:n])
	s.clicks = s.clicks[n:]
	s.mu.Unlock()

	// A missing identity still goes through the executor so every click
	// leaves a failed record and its delta is rolled back.
	sg, err := s.identity.Active()
	if err != nil {
		slog.Warn("clicks submitted without identity", "count", n, "error", err)
	}

	_, err = s.orch.SubmitBatch(s.ctx, sg, tx.KindClick, n, func(i int) Request {
		return Request{Delta: &tx.Delta{Cookies: deltas[i]}, DeltaApplied: true}
	})
	if err != nil {
		slog.Error("click batch rejected", "count", n, "error", err)
	}
}

func (s *Session) buildView(seq int64) View {
	addr := ""
	if sg, err := s.identity.Active(); err == nil {
		addr = sg.Address()
	}

	s.mu.Lock()
	v := View{
		Seq:         seq,
		Address:     addr,
		Initialized: s.initialized,
		Stats:       s.stats,
		Records:     s.records,
	}
	s.mu.Unlock()

	for _, r := range v.Records {
		if r.Status.InFlight() {
			v.Pending++
		}
	}
	v.Optimistic = s.proj.Value()
	v.PendingClicks = s.coal.Pending()
	return v
}

func (s *Session) publish() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if len(s.subs) == 0 {
		return
	}
	v := s.buildView(s.clock.Next())
	for _, fn := range s.subs {
		fn(v)
	}
}
