// Package signer selects and drives the identity that signs ledger
// operations.
//
// Two variants exist: an externally connected wallet that signs and submits
// on its own, and a locally held ed25519 key that the client signs with and
// hands to the ledger's raw submission endpoint. Signer is a tagged value
// over the two and SignAndSubmit is the single place that branches on it.
package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/roach88/cookiechain/internal/ledger"
	"github.com/roach88/cookiechain/internal/tx"
)

// Kind tags the Signer variant.
type Kind int

const (
	KindNone Kind = iota
	KindWallet
	KindLocalKey
)

func (k Kind) String() string {
	switch k {
	case KindWallet:
		return "wallet"
	case KindLocalKey:
		return "local_key"
	default:
		return "none"
	}
}

// Wallet is an externally connected signer that signs and submits itself.
// Implementations should return *tx.SigningError when the user rejects.
type Wallet interface {
	Connected() bool
	Address() string
	SignAndSubmit(ctx context.Context, op ledger.Operation) (ledger.Handle, error)
}

// LocalKey is a key pair held by the client.
type LocalKey struct {
	Address string
	Private ed25519.PrivateKey
}

// Public returns the public half of the key.
func (k LocalKey) Public() ed25519.PublicKey {
	return k.Private.Public().(ed25519.PublicKey)
}

// Sign signs op on behalf of the key's address.
func (k LocalKey) Sign(op ledger.Operation) (ledger.SignedOperation, error) {
	if len(k.Private) != ed25519.PrivateKeySize {
		return ledger.SignedOperation{}, &tx.SigningError{Message: "local key is not loaded"}
	}
	msg, err := ledger.SigningMessage(k.Address, op)
	if err != nil {
		return ledger.SignedOperation{}, &tx.SigningError{Message: "encode operation", Err: err}
	}
	return ledger.SignedOperation{
		Sender:    k.Address,
		Operation: op,
		PublicKey: k.Public(),
		Signature: ed25519.Sign(k.Private, msg),
	}, nil
}

// Signer is Wallet(w) | LocalKey(k).
type Signer struct {
	kind   Kind
	wallet Wallet
	key    LocalKey
}

// WalletSigner wraps a connected wallet.
func WalletSigner(w Wallet) Signer {
	return Signer{kind: KindWallet, wallet: w}
}

// LocalKeySigner wraps a local key pair.
func LocalKeySigner(k LocalKey) Signer {
	return Signer{kind: KindLocalKey, key: k}
}

// Kind returns the variant tag.
func (s Signer) Kind() Kind { return s.kind }

// Address returns the account the signer acts for.
func (s Signer) Address() string {
	switch s.kind {
	case KindWallet:
		return s.wallet.Address()
	case KindLocalKey:
		return s.key.Address
	default:
		return ""
	}
}

// SignAndSubmit dispatches op through whichever variant s holds. sub is the
// raw submission endpoint used by the local-key variant.
//
// A zero Nonce is replaced with a random one. Errors are always either
// *tx.SigningError or *tx.SubmissionError.
func (s Signer) SignAndSubmit(ctx context.Context, sub ledger.Submitter, op ledger.Operation) (ledger.Handle, error) {
	if op.Nonce == 0 {
		n, err := NewNonce()
		if err != nil {
			return "", &tx.SigningError{Message: "generate nonce", Err: err}
		}
		op.Nonce = n
	}

	switch s.kind {
	case KindWallet:
		if s.wallet == nil || !s.wallet.Connected() {
			return "", &tx.SigningError{Message: "wallet not connected"}
		}
		h, err := s.wallet.SignAndSubmit(ctx, op)
		if err != nil {
			return "", classify(err)
		}
		return h, nil

	case KindLocalKey:
		if sub == nil {
			return "", &tx.SubmissionError{Message: "no submission endpoint for local key"}
		}
		signed, err := s.key.Sign(op)
		if err != nil {
			return "", err
		}
		h, err := sub.Submit(ctx, signed)
		if err != nil {
			return "", classify(err)
		}
		return h, nil

	default:
		return "", &tx.SigningError{Message: "no signing identity"}
	}
}

// classify keeps typed errors and wraps everything else as a submission
// failure.
func classify(err error) error {
	var (
		se *tx.SigningError
		be *tx.SubmissionError
	)
	if errors.As(err, &se) || errors.As(err, &be) {
		return err
	}
	return &tx.SubmissionError{Message: "ledger rejected operation", Err: err}
}

// NewNonce returns a random non-zero replay-protection nonce.
func NewNonce() (uint64, error) {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("read random: %w", err)
		}
		if n := binary.BigEndian.Uint64(b[:]); n != 0 {
			return n, nil
		}
	}
}
