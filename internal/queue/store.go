// Package queue holds the in-memory transaction queue: the single source of
// truth for in-flight and recently settled operations.
//
// Every mutation (Append, Update, Remove, Restore, PruneTerminal) is atomic
// and is followed by a synchronous notification carrying a fresh deep-copied
// snapshot. Notifications are delivered in mutation order, so no observer
// ever receives an older snapshot after a newer one.
//
// Observers run while the store holds its write lock. They may read from the
// store (Snapshot, CountByStatus) but must not mutate it.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/roach88/cookiechain/internal/tx"
)

// Observer receives a snapshot after every mutation.
type Observer func(snapshot []tx.Record)

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the UUIDv7 generator (tests use FixedGenerator).
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// WithClock overrides the wall clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type observerEntry struct {
	id int
	fn Observer
}

// Store is an ordered, observable collection of transaction records.
type Store struct {
	// writeMu serializes mutation and notification so observers see
	// snapshots in the order mutations happened.
	writeMu sync.Mutex

	mu        sync.RWMutex
	records   []tx.Record
	seen      map[string]struct{} // every ID ever appended, for lifetime uniqueness
	observers []observerEntry
	nextObs   int

	ids IDGenerator
	now func() time.Time
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		records: make([]tx.Record, 0, 64),
		seen:    make(map[string]struct{}),
		ids:     UUIDv7Generator{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextObs
	s.nextObs++
	s.observers = append(s.observers, observerEntry{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

// Append adds a record and returns its ID.
//
// An empty ID is filled from the generator, a zero CreatedAt from the clock
// and an empty Status defaults to pending. New records must be pending and
// carry no ledger handle; anything else returns a *tx.RecordError. Appending
// an ID the store has ever held returns ErrDuplicateID.
func (s *Store) Append(rec tx.Record) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if rec.ID == "" {
		rec.ID = s.ids.Generate()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = s.now().UnixMilli()
	}
	if rec.Status == "" {
		rec.Status = tx.StatusPending
	}
	if rec.Status != tx.StatusPending {
		return "", &tx.RecordError{ID: rec.ID, Message: fmt.Sprintf("appended as %s, want pending", rec.Status)}
	}
	if rec.LedgerHandle != "" {
		return "", &tx.RecordError{ID: rec.ID, Message: "ledger handle on pending record"}
	}

	s.mu.Lock()
	if _, dup := s.seen[rec.ID]; dup {
		s.mu.Unlock()
		return "", fmt.Errorf("append %s: %w", rec.ID, tx.ErrDuplicateID)
	}
	s.seen[rec.ID] = struct{}{}
	s.records = append(s.records, rec.Clone())
	snap, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, snap)
	return rec.ID, nil
}

// Restore appends previously journaled records in one mutation.
// Records whose ID is already known are skipped.
func (s *Store) Restore(recs []tx.Record) int {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	added := 0
	for _, rec := range recs {
		if _, dup := s.seen[rec.ID]; dup || rec.ID == "" {
			continue
		}
		s.seen[rec.ID] = struct{}{}
		s.records = append(s.records, rec.Clone())
		added++
	}
	if added == 0 {
		s.mu.Unlock()
		return 0
	}
	snap, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, snap)
	return added
}

// Update shallow-merges p into the record with the given ID.
//
// Absent IDs are a no-op. A status change must be a legal forward
// transition (tx.CanTransition); otherwise a *tx.TransitionError is returned
// and the record is left untouched. Re-applying the current status is
// allowed and only merges the other fields. A patch that would leave a
// pending record holding a ledger handle returns a *tx.RecordError.
func (s *Store) Update(id string, p tx.Patch) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}

	cur := s.records[idx]
	if p.Status != nil && *p.Status != cur.Status && !tx.CanTransition(cur.Status, *p.Status) {
		s.mu.Unlock()
		return &tx.TransitionError{ID: id, From: cur.Status, To: *p.Status}
	}

	next := p.Apply(cur)
	if next.Status == tx.StatusPending && next.LedgerHandle != "" {
		s.mu.Unlock()
		return &tx.RecordError{ID: id, Message: "ledger handle on pending record"}
	}
	s.records[idx] = next
	snap, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, snap)
	return nil
}

// Remove deletes a record. Removing an unknown ID does nothing.
func (s *Store) Remove(id string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.records = append(s.records[:idx], s.records[idx+1:]...)
	snap, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, snap)
}

// PruneTerminal keeps only the most recent keep terminal records.
// Pending and submitted records are never pruned. Returns how many records
// were removed.
func (s *Store) PruneTerminal(keep int) int {
	if keep < 0 {
		keep = 0
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	terminal := 0
	for _, r := range s.records {
		if r.Status.Terminal() {
			terminal++
		}
	}
	drop := terminal - keep
	if drop <= 0 {
		s.mu.Unlock()
		return 0
	}

	kept := make([]tx.Record, 0, len(s.records)-drop)
	removed := 0
	for _, r := range s.records {
		if removed < drop && r.Status.Terminal() {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	snap, obs := s.snapshotLocked(), s.observersLocked()
	s.mu.Unlock()

	notify(obs, snap)
	return removed
}

// Get returns a copy of one record.
func (s *Store) Get(id string) (tx.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return tx.Record{}, false
	}
	return s.records[idx].Clone(), true
}

// Snapshot returns every record in insertion order.
func (s *Store) Snapshot() []tx.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// CountByStatus counts records in the given status.
func (s *Store) CountByStatus(status tx.Status) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if r.Status == status {
			n++
		}
	}
	return n
}

// InFlight counts pending and submitted records.
func (s *Store) InFlight() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if r.Status.InFlight() {
			n++
		}
	}
	return n
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) indexLocked(id string) int {
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) snapshotLocked() []tx.Record {
	out := make([]tx.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

func (s *Store) observersLocked() []Observer {
	out := make([]Observer, len(s.observers))
	for i, o := range s.observers {
		out[i] = o.fn
	}
	return out
}

// notify hands each observer its own copy so one observer cannot corrupt
// what the next one sees.
func notify(obs []Observer, snap []tx.Record) {
	for i, fn := range obs {
		if i == len(obs)-1 {
			fn(snap)
			continue
		}
		cp := make([]tx.Record, len(snap))
		for j, r := range snap {
			cp[j] = r.Clone()
		}
		fn(cp)
	}
}
