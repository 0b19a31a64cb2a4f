// Package ledger describes what the client needs from the remote ledger:
// submitting signed operations, waiting for their finality and reading the
// player's confirmed state. The ledger itself is an external collaborator;
// package sim provides an in-process stand-in.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Handle is the opaque reference the ledger returns for an accepted
// operation (a transaction hash on Aptos).
type Handle string

// ErrNotInitialized means the address has no player record yet. It routes
// to the "needs setup" path and is not a fault.
var ErrNotInitialized = errors.New("player not initialized")

// Operation is an entry-function call on the game contract.
//
// Nonce is a random replay-protection value. Operations are orderless: the
// ledger accepts them in any order instead of demanding a strictly
// increasing account sequence number, which is what lets a burst of clicks
// be submitted concurrently.
type Operation struct {
	Function string   `json:"function"`
	Args     []string `json:"args"`
	Nonce    uint64   `json:"nonce"`
}

// SignedOperation is an operation signed by a locally held key.
type SignedOperation struct {
	Sender    string    `json:"sender"`
	Operation Operation `json:"operation"`
	PublicKey []byte    `json:"public_key"`
	Signature []byte    `json:"signature"`
}

// SigningMessage returns the bytes a signer signs for op sent by sender.
func SigningMessage(sender string, op Operation) ([]byte, error) {
	msg, err := json.Marshal(struct {
		Sender    string    `json:"sender"`
		Operation Operation `json:"operation"`
	}{sender, op})
	if err != nil {
		return nil, fmt.Errorf("signing message: %w", err)
	}
	return msg, nil
}

// Submitter accepts signed operations.
type Submitter interface {
	Submit(ctx context.Context, op SignedOperation) (Handle, error)
}

// FinalityWaiter blocks until an accepted operation is final. It fails if
// the operation aborts on the ledger or the wait exceeds its bound.
type FinalityWaiter interface {
	WaitForFinality(ctx context.Context, h Handle) error
}

// StateReader reads confirmed player state. Returns ErrNotInitialized for
// an address without a player record.
type StateReader interface {
	ReadConfirmedState(ctx context.Context, address string) (Stats, error)
}

// Stats is the confirmed player state as exposed by the contract's view
// functions.
type Stats struct {
	TotalCookies     int64    `json:"total_cookies"`
	ClickMultiplier  int64    `json:"click_multiplier"`
	CookiesPerSecond int64    `json:"cookies_per_second"`
	PrestigeLevel    int64    `json:"prestige_level"`
	Upgrades         [3]bool  `json:"upgrades"`
	AutoClickers     [3]int64 `json:"auto_clickers"`
}
