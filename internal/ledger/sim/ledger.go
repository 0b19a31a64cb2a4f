// Package sim is an in-process ledger that runs the cookie clicker contract
// rules. It implements ledger.Submitter, ledger.FinalityWaiter and
// ledger.StateReader and is used by the simulate command and by tests.
//
// Operations are orderless: each carries a random nonce, duplicates are
// rejected, and accepted operations finalize independently after the
// configured latency (or on FinalizeAll in manual mode).
package sim

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/tx"
)

// Hook inspects an operation and returns a non-nil error to fail it.
type Hook func(op ledger.SignedOperation) error

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used for passive cookie accrual.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLatency sets how long an accepted operation takes to finalize.
func WithLatency(d time.Duration) Option {
	return func(l *Ledger) { l.latency = d }
}

// WithManualFinality disables automatic finalization; call FinalizeAll.
func WithManualFinality() Option {
	return func(l *Ledger) { l.manual = true }
}

// WithContract overrides the module the ledger serves.
func WithContract(c ledger.Contract) Option {
	return func(l *Ledger) { l.contract = c }
}

// WithRejectHook fails matching operations at submission time.
func WithRejectHook(h Hook) Option {
	return func(l *Ledger) { l.reject = h }
}

// WithAbortHook fails matching operations at execution time.
func WithAbortHook(h Hook) Option {
	return func(l *Ledger) { l.abort = h }
}

// WithFailRate aborts a random fraction of operations at execution time.
func WithFailRate(rate float64, seed uint64) Option {
	return func(l *Ledger) {
		l.failRate = rate
		l.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

type txn struct {
	op   ledger.SignedOperation
	call call
	seq  uint64
	done chan struct{}
	err  error
}

// Ledger is the simulated chain.
type Ledger struct {
	mu       sync.Mutex
	contract ledger.Contract
	now      func() time.Time
	latency  time.Duration
	manual   bool
	reject   Hook
	abort    Hook
	failRate float64
	rng      *rand.Rand

	seq     uint64
	players map[string]*player
	txns    map[ledger.Handle]*txn
	nonces  map[string]map[uint64]struct{}
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		contract: ledger.DefaultContract(),
		now:      time.Now,
		players:  make(map[string]*player),
		txns:     make(map[ledger.Handle]*txn),
		nonces:   make(map[string]map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Contract returns the module this ledger serves.
func (l *Ledger) Contract() ledger.Contract {
	return l.contract
}

// Submit verifies and accepts a signed operation.
func (l *Ledger) Submit(ctx context.Context, op ledger.SignedOperation) (ledger.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", &tx.SubmissionError{Message: "submission cancelled", Err: err}
	}
	if len(op.PublicKey) != ed25519.PublicKeySize {
		return "", &tx.SubmissionError{Message: "malformed public key"}
	}
	if ledger.AddressFromPublicKey(op.PublicKey) != op.Sender {
		return "", &tx.SubmissionError{Message: "sender does not match public key"}
	}
	msg, err := ledger.SigningMessage(op.Sender, op.Operation)
	if err != nil {
		return "", &tx.SubmissionError{Message: "encode operation", Err: err}
	}
	if !ed25519.Verify(op.PublicKey, msg, op.Signature) {
		return "", &tx.SubmissionError{Message: "invalid signature"}
	}

	c, err := parseCall(l.contract, op.Operation)
	if err != nil {
		return "", &tx.SubmissionError{Message: "invalid payload", Err: err}
	}
	if l.reject != nil {
		if err := l.reject(op); err != nil {
			return "", &tx.SubmissionError{Message: "rejected", Err: err}
		}
	}

	l.mu.Lock()
	seen := l.nonces[op.Sender]
	if seen == nil {
		seen = make(map[uint64]struct{})
		l.nonces[op.Sender] = seen
	}
	if _, dup := seen[op.Operation.Nonce]; dup {
		l.mu.Unlock()
		return "", &tx.SubmissionError{Message: fmt.Sprintf("nonce %d already used", op.Operation.Nonce)}
	}
	seen[op.Operation.Nonce] = struct{}{}

	l.seq++
	h := handleFor(msg, l.seq)
	t := &txn{op: op, call: c, seq: l.seq, done: make(chan struct{})}
	l.txns[h] = t
	l.mu.Unlock()

	slog.Debug("sim: accepted operation", "handle", h, "function", c.fn, "sender", op.Sender)

	if !l.manual {
		go func() {
			if l.latency > 0 {
				time.Sleep(l.latency)
			}
			l.finalize(h)
		}()
	}
	return h, nil
}

// WaitForFinality blocks until h is final or ctx ends. A ctx deadline is
// reported as *tx.FinalityTimeoutError, an aborted execution as
// *tx.ExecutionError.
func (l *Ledger) WaitForFinality(ctx context.Context, h ledger.Handle) error {
	l.mu.Lock()
	t, ok := l.txns[h]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown transaction %s", h)
	}

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return &tx.FinalityTimeoutError{Handle: string(h), Err: ctx.Err()}
	}
}

// ReadConfirmedState returns the confirmed stats for address.
func (l *Ledger) ReadConfirmedState(ctx context.Context, address string) (ledger.Stats, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Stats{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.players[address]
	if !ok {
		return ledger.Stats{}, ledger.ErrNotInitialized
	}
	return p.stats(), nil
}

// FinalizeAll finalizes every outstanding operation in a random order and
// returns how many were finalized. Used with WithManualFinality.
func (l *Ledger) FinalizeAll() int {
	l.mu.Lock()
	var open []ledger.Handle
	for h, t := range l.txns {
		select {
		case <-t.done:
		default:
			open = append(open, h)
		}
	}
	l.mu.Unlock()

	// Finality order is unrelated to submission order.
	sort.Slice(open, func(i, j int) bool { return open[i] < open[j] })
	rand.Shuffle(len(open), func(i, j int) { open[i], open[j] = open[j], open[i] })

	for _, h := range open {
		l.finalize(h)
	}
	return len(open)
}

// Pending returns how many accepted operations are not final.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, t := range l.txns {
		select {
		case <-t.done:
		default:
			n++
		}
	}
	return n
}

// Fund credits cookies directly to an initialized player. Test and demo aid.
func (l *Ledger) Fund(address string, cookies int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.players[address]
	if !ok {
		return ledger.ErrNotInitialized
	}
	p.cookies += cookies
	return nil
}

func (l *Ledger) finalize(h ledger.Handle) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.txns[h]
	if !ok {
		return
	}
	select {
	case <-t.done:
		return
	default:
	}

	code := ""
	if l.abort != nil {
		if err := l.abort(t.op); err != nil {
			code = AbortInjected
		}
	}
	if code == "" && l.rng != nil && l.rng.Float64() < l.failRate {
		code = AbortInjected
	}
	if code == "" {
		code = execute(l.players, t.op.Sender, t.call, l.now())
	}
	if code != "" {
		t.err = &tx.ExecutionError{Handle: string(h), Code: code}
		slog.Debug("sim: operation aborted", "handle", h, "code", code)
	}
	close(t.done)
}

func handleFor(msg []byte, seq uint64) ledger.Handle {
	h := sha3.New256()
	h.Write(msg)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	h.Write(b[:])
	return ledger.Handle("0x" + hex.EncodeToString(h.Sum(nil)))
}
