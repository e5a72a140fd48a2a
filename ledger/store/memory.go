// Package store provides an in-memory ledger.Store for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/meridian/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	entries map[ledger.UserID][]ledger.Entry
	order   []ledger.UserID
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[ledger.UserID][]ledger.Entry)}
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	es, known := m.entries[e.UserID]
	if !known {
		m.order = append(m.order, e.UserID)
	}

	// Insertion point by CreatedAt; equal timestamps keep insertion order.
	i := sort.Search(len(es), func(i int) bool {
		return es[i].CreatedAt.After(e.CreatedAt)
	})
	es = append(es, ledger.Entry{})
	copy(es[i+1:], es[i:])
	es[i] = e
	m.entries[e.UserID] = es
	return nil
}

func (m *Memory) Entries(_ context.Context, userID ledger.UserID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.Entry, len(m.entries[userID]))
	copy(out, m.entries[userID])
	return out, nil
}

func (m *Memory) Users(_ context.Context) ([]ledger.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.UserID, len(m.order))
	copy(out, m.order)
	return out, nil
}
