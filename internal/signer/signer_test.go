package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/tx"
)

type fakeWallet struct {
	connected bool
	err       error
	got       []ledger.Operation
}

func (w *fakeWallet) Connected() bool { return w.connected }
func (w *fakeWallet) Address() string { return "0xwallet" }
func (w *fakeWallet) SignAndSubmit(_ context.Context, op ledger.Operation) (ledger.Handle, error) {
	w.got = append(w.got, op)
	if w.err != nil {
		return "", w.err
	}
	return "0xhash-wallet", nil
}

type fakeSubmitter struct {
	got []ledger.SignedOperation
	err error
}

func (s *fakeSubmitter) Submit(_ context.Context, op ledger.SignedOperation) (ledger.Handle, error) {
	s.got = append(s.got, op)
	if s.err != nil {
		return "", s.err
	}
	return "0xhash-local", nil
}

func newAccounts(t *testing.T) *Accounts {
	t.Helper()
	a := NewAccounts(&MemoryKeystore{}).WithClock(func() time.Time { return time.UnixMilli(1000) })
	_, err := a.Generate(context.Background())
	require.NoError(t, err)
	return a
}

func TestSigner_WalletDispatch(t *testing.T) {
	w := &fakeWallet{connected: true}
	s := WalletSigner(w)

	h, err := s.SignAndSubmit(context.Background(), nil, ledger.Operation{Function: "f"})
	require.NoError(t, err)
	assert.Equal(t, ledger.Handle("0xhash-wallet"), h)
	assert.Equal(t, KindWallet, s.Kind())
	assert.Equal(t, "0xwallet", s.Address())
	require.Len(t, w.got, 1)
	assert.NotZero(t, w.got[0].Nonce, "nonce filled in")
}

func TestSigner_WalletDisconnected(t *testing.T) {
	s := WalletSigner(&fakeWallet{})
	_, err := s.SignAndSubmit(context.Background(), nil, ledger.Operation{})
	assert.True(t, tx.IsSigningError(err))
}

func TestSigner_WalletErrorClassified(t *testing.T) {
	w := &fakeWallet{connected: true, err: errors.New("rpc 400")}
	_, err := WalletSigner(w).SignAndSubmit(context.Background(), nil, ledger.Operation{})
	assert.True(t, tx.IsSubmissionError(err))

	w.err = &tx.SigningError{Message: "user rejected"}
	_, err = WalletSigner(w).SignAndSubmit(context.Background(), nil, ledger.Operation{})
	assert.True(t, tx.IsSigningError(err))
}

func TestSigner_LocalKeySignsVerifiably(t *testing.T) {
	accounts := newAccounts(t)
	key, ok := accounts.Key()
	require.True(t, ok)

	sub := &fakeSubmitter{}
	h, err := LocalKeySigner(key).SignAndSubmit(context.Background(), sub, ledger.Operation{Function: "f", Nonce: 5})
	require.NoError(t, err)
	assert.Equal(t, ledger.Handle("0xhash-local"), h)

	require.Len(t, sub.got, 1)
	signed := sub.got[0]
	assert.Equal(t, key.Address, signed.Sender)
	assert.Equal(t, uint64(5), signed.Operation.Nonce, "explicit nonce kept")

	msg, err := ledger.SigningMessage(signed.Sender, signed.Operation)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(signed.PublicKey, msg, signed.Signature))
	assert.Equal(t, signed.Sender, ledger.AddressFromPublicKey(signed.PublicKey))
}

func TestSigner_LocalKeySubmitErrorClassified(t *testing.T) {
	key, _ := newAccounts(t).Key()
	_, err := LocalKeySigner(key).SignAndSubmit(context.Background(), &fakeSubmitter{err: errors.New("nope")}, ledger.Operation{})
	assert.True(t, tx.IsSubmissionError(err))
}

func TestSigner_ZeroValueIsNoIdentity(t *testing.T) {
	_, err := Signer{}.SignAndSubmit(context.Background(), &fakeSubmitter{}, ledger.Operation{})
	assert.True(t, tx.IsSigningError(err))
	assert.Equal(t, "none", Signer{}.Kind().String())
}

func TestIdentity_Active(t *testing.T) {
	accounts := NewAccounts(&MemoryKeystore{})
	id := NewIdentity(accounts)

	_, err := id.Active()
	assert.True(t, tx.IsSigningError(err))

	_, err = accounts.Generate(context.Background())
	require.NoError(t, err)
	s, err := id.Active()
	require.NoError(t, err)
	assert.Equal(t, KindLocalKey, s.Kind())

	w := &fakeWallet{connected: true}
	id.ConnectWallet(w)
	s, err = id.Active()
	require.NoError(t, err)
	assert.Equal(t, KindWallet, s.Kind())

	w.connected = false
	s, err = id.Active()
	require.NoError(t, err)
	assert.Equal(t, KindLocalKey, s.Kind(), "falls back when wallet disconnects")

	id.DisconnectWallet()
	s, _ = id.Active()
	assert.Equal(t, KindLocalKey, s.Kind())
}

func TestAccounts_PersistAndReload(t *testing.T) {
	ctx := context.Background()
	ks := &MemoryKeystore{}

	a := NewAccounts(ks)
	created, err := a.Generate(ctx)
	require.NoError(t, err)
	require.NoError(t, a.MarkFunded(ctx))
	require.NoError(t, a.MarkInitialized(ctx))

	b := NewAccounts(ks)
	loaded, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, created.Address, loaded.Address)
	assert.True(t, loaded.Funded)
	assert.True(t, loaded.Initialized)

	k1, _ := a.Key()
	k2, _ := b.Key()
	assert.Equal(t, k1.Private, k2.Private)
}

func TestAccounts_LoadEmpty(t *testing.T) {
	_, err := NewAccounts(&MemoryKeystore{}).Load(context.Background())
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestAccounts_MutateWithoutAccount(t *testing.T) {
	a := NewAccounts(&MemoryKeystore{})
	assert.ErrorIs(t, a.MarkFunded(context.Background()), ErrNoAccount)
	_, err := a.Export()
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestAccounts_ExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newAccounts(t)
	exported, err := src.Export()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(exported, &doc))
	assert.Equal(t, ExportVersion, doc["version"])
	assert.Contains(t, doc, "exportedAt")

	dst := NewAccounts(&MemoryKeystore{})
	imported, err := dst.Import(ctx, exported)
	require.NoError(t, err)

	orig, _ := src.Data()
	assert.Equal(t, orig.Address, imported.Address)
	assert.Equal(t, orig.Created, imported.Created)
}

func TestAccounts_ImportRejectsMismatch(t *testing.T) {
	ctx := context.Background()
	src := newAccounts(t)
	data, _ := src.Data()
	data.Address = "0x" + "00"
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	_, err = NewAccounts(&MemoryKeystore{}).Import(ctx, raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address mismatch")

	_, err = NewAccounts(&MemoryKeystore{}).Import(ctx, []byte(`{"address":"0x1"}`))
	assert.ErrorContains(t, err, "missing private key")
}

func TestAccounts_ImportAcceptsPrefixedKey(t *testing.T) {
	src := newAccounts(t)
	data, _ := src.Data()
	data.PrivateKey = privateKeyPrefix + data.PrivateKey
	data.PublicKey = ""
	raw, err := json.Marshal(data)
	require.NoError(t, err)

	got, err := NewAccounts(&MemoryKeystore{}).Import(context.Background(), raw)
	require.NoError(t, err)
	assert.NotEmpty(t, got.PublicKey)
}

func TestAccounts_Delete(t *testing.T) {
	ctx := context.Background()
	ks := &MemoryKeystore{}
	a := NewAccounts(ks)
	_, err := a.Generate(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Delete(ctx))
	_, ok := a.Key()
	assert.False(t, ok)
	_, err = ks.Load(ctx)
	assert.ErrorIs(t, err, ErrNoKey)
}
