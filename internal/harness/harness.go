package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/cookiechain/internal/engine"
	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/ledger/sim"
	"github.com/roach88/cookiechain/internal/queue"
	"github.com/roach88/cookiechain/internal/signer"
	"github.com/roach88/cookiechain/internal/store"
	"github.com/roach88/cookiechain/internal/testutil"
	"github.com/roach88/cookiechain/internal/tx"
)

// Epoch is the ledger clock reading every scenario starts at.
var Epoch = time.Unix(1_700_000_000, 0).UTC()

var (
	errRejected = errors.New("rejected by scenario")
	errAborted  = errors.New("aborted by scenario")
)

// Harness executes one scenario. Use Run.
type Harness struct {
	ledger  *sim.Ledger
	clock   *testutil.ManualClock
	journal *store.Store
	session *engine.Session
	address string
	logger  *slog.Logger

	mu         sync.Mutex
	rejectNext int
	abortNext  int
	views      []engine.View
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh simulated ledger and a fresh in-memory
// journal. An error is returned only when the harness itself cannot run;
// failed expectations are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	h := &Harness{
		clock:  testutil.NewManualClock(Epoch),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	journal, err := store.Open(":memory:", store.WithClock(h.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer journal.Close()
	h.journal = journal

	h.ledger = sim.New(
		sim.WithManualFinality(),
		sim.WithClock(h.clock.Now),
		sim.WithRejectHook(h.rejectHook),
		sim.WithAbortHook(h.abortHook),
	)

	accounts := signer.NewAccounts(&signer.MemoryKeystore{}).WithClock(h.clock.Now)
	account, err := accounts.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	h.address = account.Address

	h.session = engine.NewSession(h.ledger, signer.NewIdentity(accounts), engine.Config{
		FinalityTimeout: time.Hour,
		RefreshInterval: time.Hour,
		CoalesceWindow:  time.Hour, // clicks leave only on flush
		MaxInFlight:     engine.DefaultMaxInFlight,
		RetainTerminal:  10_000,
	},
		engine.WithQueue(queue.New(
			queue.WithIDGenerator(testutil.NewSequenceIDs("rec")),
			queue.WithClock(h.clock.Now),
		)),
		engine.WithJournal(journal),
	)
	h.session.Subscribe(func(v engine.View) {
		h.mu.Lock()
		h.views = append(h.views, v)
		h.mu.Unlock()
	})

	result := NewResult()
	h.executeFlow(ctx, scenario.Flow, result)

	h.mu.Lock()
	result.Views = append([]engine.View(nil), h.views...)
	h.mu.Unlock()

	actx := &AssertionContext{Journal: journal, Ctx: ctx}
	if err := h.session.Checkpoint(ctx); err != nil {
		return nil, fmt.Errorf("failed to checkpoint journal: %w", err)
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	if err := h.settle(func() error { return h.session.Close(ctx) }); err != nil {
		return nil, fmt.Errorf("failed to close session: %w", err)
	}
	return result, nil
}

// executeFlow runs every step, records a trace event after each and checks
// the step's expect clause.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) {
	for i, step := range flow {
		err := h.execute(ctx, step)

		ev := summarize(i, step.Do, h.session.View())
		if err != nil {
			ev.Error = tx.Classify(err)
		}
		result.Trace = append(result.Trace, ev)

		h.logger.Debug("flow step completed", "step", i, "do", step.Do, "optimistic", ev.Optimistic, "error", err)

		for _, msg := range checkExpect(fmt.Sprintf("flow[%d] %s", i, step.Do), step.Expect, ev, err) {
			result.AddError(msg)
		}
	}
}

func (h *Harness) execute(ctx context.Context, step FlowStep) error {
	s := h.session
	switch step.Do {
	case StepInitialize:
		err := h.settle(func() error { return s.Initialize(ctx) })
		s.Wait()
		return err

	case StepClick:
		for n := 0; n < step.Count; n++ {
			if err := s.Click(); err != nil {
				return err
			}
		}
		return nil

	case StepFlush:
		s.Flush()
		return nil

	case StepFinalize:
		h.ledger.FinalizeAll()
		s.Wait()
		return nil

	case StepRefresh:
		return s.Refresh(ctx)

	case StepRejectNext:
		h.mu.Lock()
		h.rejectNext += step.Count
		h.mu.Unlock()
		return nil

	case StepAbortNext:
		h.mu.Lock()
		h.abortNext += step.Count
		h.mu.Unlock()
		return nil

	case StepUpgrade:
		_, err := s.BuyUpgrade(ctx, step.Args[0])
		return err

	case StepAutoClicker:
		_, err := s.BuyAutoClicker(ctx, step.Args[0], step.Args[1])
		return err

	case StepCollect:
		_, err := s.CollectPassive(ctx)
		return err

	case StepPrestige:
		_, err := s.Prestige(ctx)
		return err

	case StepFund:
		return h.ledger.Fund(h.address, int64(step.Count))

	case StepAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		return nil
	}
	return fmt.Errorf("unknown step %q", step.Do)
}

// settle runs fn while finalizing whatever the ledger holds, for calls that
// block on finality.
func (h *Harness) settle(fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			return err
		case <-ticker.C:
			h.ledger.FinalizeAll()
		}
	}
}

func (h *Harness) rejectHook(ledger.SignedOperation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rejectNext > 0 {
		h.rejectNext--
		return errRejected
	}
	return nil
}

func (h *Harness) abortHook(ledger.SignedOperation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.abortNext > 0 {
		h.abortNext--
		return errAborted
	}
	return nil
}
