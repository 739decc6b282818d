// Package journal remembers signed final-transaction announcements so that
// journaling the same merged transaction twice is a no-op, and so peers can
// confirm a given merged transaction was authorized by a legitimate
// masternode. Put and Get consult only the in-memory map; an optional Store
// receives a copy of each new entry but is never read back, so after a
// restart the journal starts empty.
package journal

import (
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/obfpool-coordinator/pkg/models"
)

// Store persists journal entries beyond process restarts. The in-memory
// Journal below always keeps its own copy; Store is an optional durable
// backstop (internal/db wires pgx to this).
type Store interface {
	Put(ctx context.Context, key chainhash.Hash, entry models.BroadcastJournalEntry) error
	Get(ctx context.Context, key chainhash.Hash) (models.BroadcastJournalEntry, bool, error)
}

// Journal is an in-memory broadcast journal, optionally backed by a durable
// Store. Duplicate keys are silently ignored (spec property 8).
type Journal struct {
	mu      sync.RWMutex
	entries map[chainhash.Hash]models.BroadcastJournalEntry
	store   Store
}

// New returns an empty Journal. store may be nil, in which case the
// journal is purely in-memory (mirrors the teacher's "continue without
// persisting" fallback when no database is configured).
func New(store Store) *Journal {
	return &Journal{
		entries: make(map[chainhash.Hash]models.BroadcastJournalEntry),
		store:   store,
	}
}

// Put records entry under key if it is not already present. Returns true
// if this call actually inserted a new entry.
func (j *Journal) Put(ctx context.Context, key chainhash.Hash, entry models.BroadcastJournalEntry) bool {
	j.mu.Lock()
	if _, exists := j.entries[key]; exists {
		j.mu.Unlock()
		return false
	}
	j.entries[key] = entry
	j.mu.Unlock()

	if j.store != nil {
		// Durable persistence is best-effort: a failure here does not
		// undo the in-memory record, since the coordinator must keep
		// operating even when the database is unreachable.
		_ = j.store.Put(ctx, key, entry)
	}
	return true
}

// Get returns the journal entry for key, if any.
func (j *Journal) Get(key chainhash.Hash) (models.BroadcastJournalEntry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	e, ok := j.entries[key]
	return e, ok
}

// Len returns the number of journaled entries.
func (j *Journal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}
