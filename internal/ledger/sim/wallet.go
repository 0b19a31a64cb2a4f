package sim

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/signer"
	"github.com/roach88/cookiechain/internal/tx"
)

// Wallet is a browser-wallet stand-in: it holds its own key and submits to
// a Ledger. It satisfies signer.Wallet.
type Wallet struct {
	mu        sync.Mutex
	ledger    *Ledger
	key       signer.LocalKey
	connected bool
	rejectAll bool
}

var _ signer.Wallet = (*Wallet)(nil)

// NewWallet creates a connected wallet with a fresh key.
func NewWallet(l *Ledger) (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	return &Wallet{
		ledger:    l,
		key:       signer.LocalKey{Address: ledger.AddressFromPublicKey(pub), Private: priv},
		connected: true,
	}, nil
}

// Connected implements signer.Wallet.
func (w *Wallet) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}

// Address implements signer.Wallet.
func (w *Wallet) Address() string { return w.key.Address }

// SetConnected toggles the connection state.
func (w *Wallet) SetConnected(c bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connected = c
}

// RejectAll makes the wallet refuse every signing request, as a user
// dismissing the popup would.
func (w *Wallet) RejectAll(reject bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rejectAll = reject
}

// SignAndSubmit implements signer.Wallet.
func (w *Wallet) SignAndSubmit(ctx context.Context, op ledger.Operation) (ledger.Handle, error) {
	w.mu.Lock()
	reject := w.rejectAll
	w.mu.Unlock()
	if reject {
		return "", &tx.SigningError{Message: "user rejected the request"}
	}

	signed, err := w.key.Sign(op)
	if err != nil {
		return "", err
	}
	return w.ledger.Submit(ctx, signed)
}
