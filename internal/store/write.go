package store

import (
	"context"
	"fmt"

	"github.com/roach88/cookiechain/internal/tx"
)

// statusRank orders statuses so the upsert can refuse backward moves.
const statusRank = `CASE %s
	WHEN 'pending' THEN 0
	WHEN 'submitted' THEN 1
	ELSE 2
END`

var upsertRecordSQL = fmt.Sprintf(`
	INSERT INTO transactions
	(id, kind, status, ledger_handle, created_at, optimistic_delta, failure_reason, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		ledger_handle = excluded.ledger_handle,
		optimistic_delta = excluded.optimistic_delta,
		failure_reason = excluded.failure_reason,
		updated_at = excluded.updated_at
	WHERE transactions.status = excluded.status
		OR (%s) > (%s)
`, fmt.Sprintf(statusRank, "excluded.status"), fmt.Sprintf(statusRank, "transactions.status"))

// WriteRecord upserts a single record. A write that would move the stored
// status backwards, or out of a terminal status, is ignored.
func (s *Store) WriteRecord(ctx context.Context, rec tx.Record) error {
	delta, err := tx.MarshalDelta(rec.OptimisticDelta)
	if err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}

	_, err = s.db.ExecContext(ctx, upsertRecordSQL,
		rec.ID,
		string(rec.Kind),
		string(rec.Status),
		rec.LedgerHandle,
		rec.CreatedAt,
		delta,
		rec.FailureReason,
		s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	return nil
}

// SyncSnapshot writes every record of a queue snapshot in one transaction.
// Records pruned from the queue stay in the journal as history.
func (s *Store) SyncSnapshot(ctx context.Context, records []tx.Record) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer dbtx.Rollback()

	stmt, err := dbtx.PrepareContext(ctx, upsertRecordSQL)
	if err != nil {
		return fmt.Errorf("prepare snapshot: %w", err)
	}
	defer stmt.Close()

	now := s.now().UnixMilli()
	for _, rec := range records {
		delta, err := tx.MarshalDelta(rec.OptimisticDelta)
		if err != nil {
			return fmt.Errorf("snapshot record %s: %w", rec.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.ID,
			string(rec.Kind),
			string(rec.Status),
			rec.LedgerHandle,
			rec.CreatedAt,
			delta,
			rec.FailureReason,
			now,
		); err != nil {
			return fmt.Errorf("snapshot record %s: %w", rec.ID, err)
		}
	}

	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// DeleteRecords removes every journaled record and returns how many there
// were.
func (s *Store) DeleteRecords(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transactions`)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return n, nil
}
