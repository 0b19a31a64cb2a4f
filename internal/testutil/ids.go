package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequenceIDs generates "<prefix>-0001", "<prefix>-0002", ...
//
// IDs sort in generation order, so snapshots and golden output taken from a
// store using it are stable across runs. Implements queue.IDGenerator.
//
// Thread-safety: safe for concurrent use.
type SequenceIDs struct {
	prefix string
	n      atomic.Int64
}

// NewSequenceIDs creates a generator. An empty prefix becomes "rec".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "rec"
	}
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequenceIDs) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1))
}
