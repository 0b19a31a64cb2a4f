package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/cookiechain/internal/ledger"
)

// ExportVersion tags exported account documents.
const ExportVersion = "1.0"

// privateKeyPrefix is the AIP-80 prefix some wallets put on exported keys.
const privateKeyPrefix = "ed25519-priv-"

// ErrNoAccount is returned by operations that need a local account when
// none is loaded.
var ErrNoAccount = errors.New("no local account")

// AccountData is the persisted form of a local account.
type AccountData struct {
	PrivateKey  string `json:"privateKey"`
	Address     string `json:"address"`
	PublicKey   string `json:"publicKey"`
	Created     int64  `json:"created"`
	Funded      bool   `json:"funded"`
	Initialized bool   `json:"initialized"`
}

type exportDoc struct {
	AccountData
	ExportedAt int64  `json:"exportedAt"`
	Version    string `json:"version"`
}

// Accounts manages the single locally held account. It is constructed once
// per session around a Keystore; nothing about it is global.
type Accounts struct {
	mu   sync.Mutex
	ks   Keystore
	now  func() time.Time
	data *AccountData
	key  ed25519.PrivateKey
}

// NewAccounts creates a manager backed by ks. Call Load to pick up a
// previously saved account.
func NewAccounts(ks Keystore) *Accounts {
	return &Accounts{ks: ks, now: time.Now}
}

// WithClock overrides the clock used for Created and ExportedAt.
func (a *Accounts) WithClock(now func() time.Time) *Accounts {
	a.now = now
	return a
}

// Load reads the stored account. Returns ErrNoAccount when none is stored.
func (a *Accounts) Load(ctx context.Context) (AccountData, error) {
	raw, err := a.ks.Load(ctx)
	if errors.Is(err, ErrNoKey) {
		return AccountData{}, ErrNoAccount
	}
	if err != nil {
		return AccountData{}, fmt.Errorf("load account: %w", err)
	}

	var data AccountData
	if err := json.Unmarshal(raw, &data); err != nil {
		return AccountData{}, fmt.Errorf("decode stored account: %w", err)
	}
	key, err := parsePrivateKey(data.PrivateKey)
	if err != nil {
		return AccountData{}, fmt.Errorf("stored account: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.data, a.key = &data, key
	return data, nil
}

// Generate creates, stores and loads a fresh key pair.
func (a *Accounts) Generate(ctx context.Context) (AccountData, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return AccountData{}, fmt.Errorf("generate key: %w", err)
	}
	data := AccountData{
		PrivateKey: "0x" + hex.EncodeToString(priv.Seed()),
		Address:    ledger.AddressFromPublicKey(pub),
		PublicKey:  "0x" + hex.EncodeToString(pub),
		Created:    a.now().UnixMilli(),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.saveLocked(ctx, data); err != nil {
		return AccountData{}, err
	}
	a.data, a.key = &data, priv
	return data, nil
}

// Data returns the loaded account, if any.
func (a *Accounts) Data() (AccountData, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data == nil {
		return AccountData{}, false
	}
	return *a.data, true
}

// Key returns the loaded key pair, if any.
func (a *Accounts) Key() (LocalKey, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data == nil {
		return LocalKey{}, false
	}
	return LocalKey{Address: a.data.Address, Private: a.key}, true
}

// MarkFunded records that the account has been funded.
func (a *Accounts) MarkFunded(ctx context.Context) error {
	return a.mutate(ctx, func(d *AccountData) { d.Funded = true })
}

// MarkInitialized records that the player record exists on the ledger.
func (a *Accounts) MarkInitialized(ctx context.Context) error {
	return a.mutate(ctx, func(d *AccountData) { d.Initialized = true })
}

// Export returns the account as an indented JSON backup document.
func (a *Accounts) Export() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data == nil {
		return nil, ErrNoAccount
	}
	doc := exportDoc{AccountData: *a.data, ExportedAt: a.now().UnixMilli(), Version: ExportVersion}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export account: %w", err)
	}
	return out, nil
}

// Import validates a backup document, stores it and loads it.
// The address in the document must match the one derived from the key.
// The document is NFC-normalized before decoding.
func (a *Accounts) Import(ctx context.Context, raw []byte) (AccountData, error) {
	var doc exportDoc
	if err := json.Unmarshal(norm.NFC.Bytes(raw), &doc); err != nil {
		return AccountData{}, fmt.Errorf("import account: %w", err)
	}
	doc.PrivateKey = strings.TrimSpace(doc.PrivateKey)
	if doc.PrivateKey == "" || doc.Address == "" {
		return AccountData{}, errors.New("import account: missing private key or address")
	}

	key, err := parsePrivateKey(doc.PrivateKey)
	if err != nil {
		return AccountData{}, fmt.Errorf("import account: %w", err)
	}
	pub := key.Public().(ed25519.PublicKey)
	derived := ledger.AddressFromPublicKey(pub)
	if derived != ledger.NormalizeAddress(doc.Address) {
		return AccountData{}, errors.New("import account: address mismatch")
	}

	data := AccountData{
		PrivateKey:  doc.PrivateKey,
		Address:     derived,
		PublicKey:   doc.PublicKey,
		Created:     doc.Created,
		Funded:      doc.Funded,
		Initialized: doc.Initialized,
	}
	if data.PublicKey == "" {
		data.PublicKey = "0x" + hex.EncodeToString(pub)
	}
	if data.Created == 0 {
		data.Created = a.now().UnixMilli()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.saveLocked(ctx, data); err != nil {
		return AccountData{}, err
	}
	a.data, a.key = &data, key
	return data, nil
}

// Delete forgets the account in memory and in the keystore.
func (a *Accounts) Delete(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data, a.key = nil, nil
	if err := a.ks.Delete(ctx); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

func (a *Accounts) mutate(ctx context.Context, fn func(*AccountData)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data == nil {
		return ErrNoAccount
	}
	next := *a.data
	fn(&next)
	if err := a.saveLocked(ctx, next); err != nil {
		return err
	}
	a.data = &next
	return nil
}

func (a *Accounts) saveLocked(ctx context.Context, data AccountData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if err := a.ks.Save(ctx, raw); err != nil {
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func parsePrivateKey(s string) (ed25519.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), privateKeyPrefix)
	s = strings.TrimPrefix(s, "0x")
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("private key is not hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
