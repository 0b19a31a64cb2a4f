package signer

import (
	"sync"

	"github.com/roach88/cookiechain/internal/tx"
)

// Identity picks the active signer: a connected wallet takes precedence,
// otherwise the local account is used.
type Identity struct {
	mu       sync.RWMutex
	wallet   Wallet
	accounts *Accounts
}

// NewIdentity creates a selector over the local accounts (may be nil).
func NewIdentity(accounts *Accounts) *Identity {
	return &Identity{accounts: accounts}
}

// ConnectWallet installs an external wallet.
func (i *Identity) ConnectWallet(w Wallet) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.wallet = w
}

// DisconnectWallet removes the external wallet.
func (i *Identity) DisconnectWallet() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.wallet = nil
}

// Active returns the signer currently in charge, or a *tx.SigningError when
// neither a connected wallet nor a local key is available.
func (i *Identity) Active() (Signer, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if i.wallet != nil && i.wallet.Connected() {
		return WalletSigner(i.wallet), nil
	}
	if i.accounts != nil {
		if key, ok := i.accounts.Key(); ok {
			return LocalKeySigner(key), nil
		}
	}
	return Signer{}, &tx.SigningError{Message: "no signing identity: connect a wallet or create a local account"}
}
