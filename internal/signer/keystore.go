package signer

import (
	"context"
	"errors"
	"sync"
)

// ErrNoKey is returned by Keystore.Load when nothing is stored.
var ErrNoKey = errors.New("no stored key")

// Keystore persists one opaque key blob. The storage medium is irrelevant to
// the signer; store.Store keeps it in SQLite and MemoryKeystore in memory.
type Keystore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
}

// MemoryKeystore is a process-local Keystore.
type MemoryKeystore struct {
	mu   sync.Mutex
	data []byte
}

func (m *MemoryKeystore) Load(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, ErrNoKey
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemoryKeystore) Save(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

func (m *MemoryKeystore) Delete(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}
