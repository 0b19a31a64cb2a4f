package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cookiechain/internal/signer"
)

var _ signer.Keystore = (*Store)(nil)

// Load implements signer.Keystore. Returns signer.ErrNoKey when empty.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM keystore WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, signer.ErrNoKey
	}
	if err != nil {
		return nil, fmt.Errorf("load keystore: %w", err)
	}
	return data, nil
}

// Save implements signer.Keystore, replacing any stored account.
func (s *Store) Save(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO keystore (id, data, updated_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, data, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save keystore: %w", err)
	}
	return nil
}

// Delete implements signer.Keystore. Deleting an empty keystore is not an
// error.
func (s *Store) Delete(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM keystore WHERE id = 1`); err != nil {
		return fmt.Errorf("delete keystore: %w", err)
	}
	return nil
}
