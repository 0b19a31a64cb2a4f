package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/projector"
	"github.com/roach88/cookiechain/internal/queue"
	"github.com/roach88/cookiechain/internal/signer"
	"github.com/roach88/cookiechain/internal/testutil"
	"github.com/roach88/cookiechain/internal/tx"
)

// fakeLedger accepts everything unless reject says otherwise and finalizes
// only when the test resolves a handle (or immediately with autoConfirm).
type fakeLedger struct {
	mu          sync.Mutex
	reject      func(op ledger.Operation) error
	autoConfirm bool
	n           int
	final       map[ledger.Handle]chan error
	order       []ledger.Handle

	stats    ledger.Stats
	readErr  error
	reads    int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{final: make(map[ledger.Handle]chan error)}
}

func (f *fakeLedger) Submit(_ context.Context, op ledger.SignedOperation) (ledger.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject != nil {
		if err := f.reject(op.Operation); err != nil {
			return "", err
		}
	}
	f.n++
	arg := ""
	if len(op.Operation.Args) > 0 {
		arg = op.Operation.Args[0]
	}
	h := ledger.Handle(fmt.Sprintf("0xh%d-%s", f.n, arg))
	ch := make(chan error, 1)
	if f.autoConfirm {
		ch <- nil
	}
	f.final[h] = ch
	f.order = append(f.order, h)
	return h, nil
}

func (f *fakeLedger) WaitForFinality(ctx context.Context, h ledger.Handle) error {
	f.mu.Lock()
	ch, ok := f.final[h]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown handle %s", h)
	}
	select {
	case err := <-ch:
		ch <- err // let other waiters see it too
		return err
	case <-ctx.Done():
		return &tx.FinalityTimeoutError{Handle: string(h), Err: ctx.Err()}
	}
}

func (f *fakeLedger) ReadConfirmedState(context.Context, string) (ledger.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.stats, f.readErr
}

func (f *fakeLedger) resolve(h ledger.Handle, err error) {
	f.mu.Lock()
	ch := f.final[h]
	f.mu.Unlock()
	ch <- err
}

func (f *fakeLedger) resolveAll(err error) {
	f.mu.Lock()
	hs := append([]ledger.Handle(nil), f.order...)
	f.mu.Unlock()
	for _, h := range hs {
		f.mu.Lock()
		ch := f.final[h]
		f.mu.Unlock()
		select {
		case ch <- err:
		default:
		}
	}
}

func (f *fakeLedger) setStats(s ledger.Stats, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats, f.readErr = s, err
}

func (f *fakeLedger) setAutoConfirm(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoConfirm = v
}

func newLocalIdentity(t *testing.T) *signer.Identity {
	t.Helper()
	accounts := signer.NewAccounts(&signer.MemoryKeystore{})
	_, err := accounts.Generate(context.Background())
	require.NoError(t, err)
	return signer.NewIdentity(accounts)
}

func localSigner(t *testing.T) signer.Signer {
	t.Helper()
	s, err := newLocalIdentity(t).Active()
	require.NoError(t, err)
	return s
}

type pipeline struct {
	store   *queue.Store
	proj    *projector.Projector
	watcher *Watcher
	exec    *Executor
	ledger  *fakeLedger
}

func newPipeline(t *testing.T, wopts ...WatcherOption) *pipeline {
	t.Helper()
	p := &pipeline{store: queue.New(queue.WithIDGenerator(testutil.NewSequenceIDs("rec"))), ledger: newFakeLedger()}
	p.proj = projector.New(p.store)
	p.watcher = NewWatcher(p.store, p.proj, p.ledger, wopts...)
	p.exec = NewExecutor(p.store, p.proj, p.ledger, p.watcher)
	return p
}

// eventually waits for cond, failing the test after a second.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond, msg)
}
