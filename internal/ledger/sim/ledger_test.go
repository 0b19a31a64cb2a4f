package sim

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/signer"
	"github.com/roach88/cookiechain/internal/testutil"
	"github.com/roach88/cookiechain/internal/tx"
)

type harness struct {
	t      *testing.T
	ledger *Ledger
	key    signer.LocalKey
	nonce  uint64
	clock  *testutil.ManualClock
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	h := &harness{t: t, clock: testutil.NewManualClock(time.Unix(1_700_000_000, 0))}
	opts = append([]Option{WithManualFinality(), WithClock(h.clock.Now)}, opts...)
	h.ledger = New(opts...)
	h.key = signer.LocalKey{Address: ledger.AddressFromPublicKey(pub), Private: priv}
	return h
}

func (h *harness) submit(kind tx.Kind, args ...string) (ledger.Handle, error) {
	h.t.Helper()
	op, err := h.ledger.Contract().Operation(kind, args)
	require.NoError(h.t, err)
	h.nonce++
	op.Nonce = h.nonce
	signed, err := h.key.Sign(op)
	require.NoError(h.t, err)
	return h.ledger.Submit(context.Background(), signed)
}

// run submits, finalizes and returns the finality result.
func (h *harness) run(kind tx.Kind, args ...string) error {
	h.t.Helper()
	handle, err := h.submit(kind, args...)
	require.NoError(h.t, err)
	h.ledger.FinalizeAll()
	return h.ledger.WaitForFinality(context.Background(), handle)
}

func (h *harness) stats() ledger.Stats {
	h.t.Helper()
	s, err := h.ledger.ReadConfirmedState(context.Background(), h.key.Address)
	require.NoError(h.t, err)
	return s
}

func TestLedger_NotInitialized(t *testing.T) {
	h := newHarness(t)
	_, err := h.ledger.ReadConfirmedState(context.Background(), h.key.Address)
	assert.ErrorIs(t, err, ledger.ErrNotInitialized)

	err = h.run(tx.KindClick)
	var ee *tx.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, AbortNotInitialized, ee.Code)
}

func TestLedger_InitializeAndClick(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(tx.KindInitialize))
	require.NoError(t, h.run(tx.KindClick))
	require.NoError(t, h.run(tx.KindClick))

	s := h.stats()
	assert.Equal(t, int64(2), s.TotalCookies)
	assert.Equal(t, int64(1), s.ClickMultiplier)

	err := h.run(tx.KindInitialize)
	assert.ErrorContains(t, err, AbortAlreadyInitialized)
}

func TestLedger_UpgradeRules(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(tx.KindInitialize))

	err := h.run(tx.KindUpgrade, "0")
	assert.ErrorContains(t, err, AbortInsufficient)

	require.NoError(t, h.ledger.Fund(h.key.Address, 1_100))
	require.NoError(t, h.run(tx.KindUpgrade, "0"))
	require.NoError(t, h.run(tx.KindUpgrade, "1"))

	s := h.stats()
	assert.Equal(t, int64(0), s.TotalCookies)
	assert.Equal(t, int64(5), s.ClickMultiplier, "best upgrade wins")
	assert.Equal(t, [3]bool{true, true, false}, s.Upgrades)

	err = h.run(tx.KindUpgrade, "0")
	assert.ErrorContains(t, err, AbortAlreadyOwned)
}

func TestLedger_AutoClickersAndCollect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(tx.KindInitialize))
	require.NoError(t, h.ledger.Fund(h.key.Address, 600))

	require.NoError(t, h.run(tx.KindAutoClicker, "0", "2")) // 100
	require.NoError(t, h.run(tx.KindAutoClicker, "1", "1")) // 500
	s := h.stats()
	assert.Equal(t, int64(0), s.TotalCookies)
	assert.Equal(t, int64(12), s.CookiesPerSecond)
	assert.Equal(t, [3]int64{2, 1, 0}, s.AutoClickers)

	h.clock.Advance(10*time.Second + 500*time.Millisecond)
	require.NoError(t, h.run(tx.KindCollectPassive))
	assert.Equal(t, int64(120), h.stats().TotalCookies)

	// Remaining half second carries over.
	h.clock.Advance(500 * time.Millisecond)
	require.NoError(t, h.run(tx.KindCollectPassive))
	assert.Equal(t, int64(132), h.stats().TotalCookies)
}

func TestLedger_Prestige(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run(tx.KindInitialize))

	assert.ErrorContains(t, h.run(tx.KindPrestige), AbortPrestigeThreshold)

	require.NoError(t, h.ledger.Fund(h.key.Address, ledger.PrestigeThreshold))
	require.NoError(t, h.run(tx.KindPrestige))

	s := h.stats()
	assert.Equal(t, int64(0), s.TotalCookies)
	assert.Equal(t, int64(1), s.PrestigeLevel)
	assert.Equal(t, int64(2), s.ClickMultiplier)
}

func TestLedger_SubmitValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.submit(tx.KindUpgrade)
	assert.True(t, tx.IsSubmissionError(err), "wrong arity")

	_, err = h.submit(tx.KindUpgrade, "7")
	assert.True(t, tx.IsSubmissionError(err), "out of range")

	_, err = h.submit(tx.KindAutoClicker, "0", "0")
	assert.True(t, tx.IsSubmissionError(err), "zero quantity")

	_, err = h.submit(tx.KindUpgrade, "-1")
	assert.True(t, tx.IsSubmissionError(err), "negative")
}

func TestLedger_RejectsBadSignatureAndReplay(t *testing.T) {
	h := newHarness(t)
	op, err := h.ledger.Contract().Operation(tx.KindInitialize, nil)
	require.NoError(t, err)
	op.Nonce = 42

	signed, err := h.key.Sign(op)
	require.NoError(t, err)

	tampered := signed
	tampered.Operation.Nonce = 43
	_, err = h.ledger.Submit(context.Background(), tampered)
	assert.ErrorContains(t, err, "invalid signature")

	_, err = h.ledger.Submit(context.Background(), signed)
	require.NoError(t, err)
	_, err = h.ledger.Submit(context.Background(), signed)
	assert.ErrorContains(t, err, "already used")
}

func TestLedger_Hooks(t *testing.T) {
	h := newHarness(t,
		WithRejectHook(func(op ledger.SignedOperation) error {
			if op.Operation.Nonce == 2 {
				return errors.New("mempool full")
			}
			return nil
		}),
		WithAbortHook(func(op ledger.SignedOperation) error {
			if op.Operation.Nonce == 3 {
				return errors.New("boom")
			}
			return nil
		}),
	)
	require.NoError(t, h.run(tx.KindInitialize)) // nonce 1

	_, err := h.submit(tx.KindClick) // nonce 2
	assert.True(t, tx.IsSubmissionError(err))

	err = h.run(tx.KindClick) // nonce 3
	assert.ErrorContains(t, err, AbortInjected)
}

func TestLedger_FinalityTimeout(t *testing.T) {
	h := newHarness(t)
	handle, err := h.submit(tx.KindInitialize)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = h.ledger.WaitForFinality(ctx, handle)
	assert.True(t, tx.IsFinalityTimeout(err))
	assert.Equal(t, 1, h.ledger.Pending())

	assert.Equal(t, 1, h.ledger.FinalizeAll())
	assert.Zero(t, h.ledger.Pending())
}

func TestLedger_AutomaticFinality(t *testing.T) {
	l := New(WithLatency(5 * time.Millisecond))
	w, err := NewWallet(l)
	require.NoError(t, err)

	op, err := l.Contract().Operation(tx.KindInitialize, nil)
	require.NoError(t, err)
	op.Nonce = 1
	handle, err := w.SignAndSubmit(context.Background(), op)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.WaitForFinality(ctx, handle))

	s, err := l.ReadConfirmedState(ctx, w.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.ClickMultiplier)
}

func TestWallet_RejectAndDisconnect(t *testing.T) {
	l := New(WithManualFinality())
	w, err := NewWallet(l)
	require.NoError(t, err)
	assert.True(t, w.Connected())

	w.RejectAll(true)
	_, err = w.SignAndSubmit(context.Background(), ledger.Operation{})
	assert.True(t, tx.IsSigningError(err))

	w.SetConnected(false)
	assert.False(t, w.Connected())
}

func TestLedger_FailRateBounds(t *testing.T) {
	h := newHarness(t, WithFailRate(1.0, 7))
	err := h.run(tx.KindInitialize)
	assert.ErrorContains(t, err, AbortInjected)

	h = newHarness(t, WithFailRate(0.0, 7))
	require.NoError(t, h.run(tx.KindInitialize))
	for i := 0; i < 5; i++ {
		require.NoError(t, h.run(tx.KindClick), "click %d", i)
	}
}
