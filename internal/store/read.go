package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/cookiechain/internal/tx"
)

// Filter narrows a history query.
type Filter struct {
	Statuses []tx.Status
	Kind     tx.Kind
	Limit    int // newest N records; 0 means all
}

// LoadRecords returns the newest limit records (all when limit <= 0) in
// creation order, oldest first. This is what a session resumes from.
func (s *Store) LoadRecords(ctx context.Context, limit int) ([]tx.Record, error) {
	return s.History(ctx, Filter{Limit: limit})
}

// LoadInFlight returns every pending or submitted record, oldest first.
func (s *Store) LoadInFlight(ctx context.Context) ([]tx.Record, error) {
	return s.History(ctx, Filter{Statuses: []tx.Status{tx.StatusPending, tx.StatusSubmitted}})
}

// History returns records matching f in creation order, oldest first.
// Ties on created_at are broken by id so results are deterministic.
//
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) History(ctx context.Context, f Filter) ([]tx.Record, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}

	q := `SELECT id, kind, status, ledger_handle, created_at, optimistic_delta, failure_reason FROM transactions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id COLLATE BINARY DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []tx.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	// Query is newest first so LIMIT keeps the newest; flip to oldest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if out == nil {
		out = []tx.Record{}
	}
	return out, nil
}

// ReadRecord returns one record by id.
func (s *Store) ReadRecord(ctx context.Context, id string) (tx.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, status, ledger_handle, created_at, optimistic_delta, failure_reason
		FROM transactions
		WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return tx.Record{}, fmt.Errorf("record %s not found: %w", id, err)
	}
	return rec, err
}

// CountByStatus returns how many journaled records hold each status.
func (s *Store) CountByStatus(ctx context.Context) (map[tx.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM transactions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count records: %w", err)
	}
	defer rows.Close()

	counts := make(map[tx.Status]int)
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[tx.Status(st)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return counts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (tx.Record, error) {
	var (
		rec          tx.Record
		kind, status string
		delta        string
	)
	if err := row.Scan(&rec.ID, &kind, &status, &rec.LedgerHandle, &rec.CreatedAt, &delta, &rec.FailureReason); err != nil {
		if err == sql.ErrNoRows {
			return tx.Record{}, err
		}
		return tx.Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.Kind = tx.Kind(kind)
	rec.Status = tx.Status(status)

	d, err := tx.UnmarshalDelta(delta)
	if err != nil {
		return tx.Record{}, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.OptimisticDelta = d
	return rec, nil
}
