// memory.go - In-memory referral stores for tests and dev.
package referral

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridian/loyalty-engine/ledger"
)

// MemoryStore implements RelationshipStore and CommissionStore in memory.
type MemoryStore struct {
	mu            sync.RWMutex
	codes         map[string]Code
	relationships map[ledger.UserID]Relationship // keyed by referee
	commissions   []Commission
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:         make(map[string]Code),
		relationships: make(map[ledger.UserID]Relationship),
	}
}

// =============================================================================
// CODES
// =============================================================================

func (m *MemoryStore) SaveCode(_ context.Context, c Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.codes[c.Value]; exists {
		return fmt.Errorf("%w: %s", ErrCodeTaken, c.Value)
	}
	m.codes[c.Value] = c
	return nil
}

func (m *MemoryStore) CodeByValue(_ context.Context, value string) (Code, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.codes[value]
	return c, ok, nil
}

func (m *MemoryStore) CodesByReferrer(_ context.Context, referrerID ledger.UserID) ([]Code, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Code
	for _, c := range m.codes {
		if c.ReferrerID == referrerID {
			out = append(out, c)
		}
	}
	return out, nil
}

// =============================================================================
// RELATIONSHIPS
// =============================================================================

func (m *MemoryStore) SaveRelationship(_ context.Context, r Relationship) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.relationships[r.RefereeID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateReferee, r.RefereeID)
	}
	m.relationships[r.RefereeID] = r
	return nil
}

func (m *MemoryStore) RelationshipByReferee(_ context.Context, refereeID ledger.UserID) (Relationship, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.relationships[refereeID]
	return r, ok, nil
}

func (m *MemoryStore) RelationshipsByReferrer(_ context.Context, referrerID ledger.UserID) ([]Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Relationship
	for _, r := range m.relationships {
		if r.ReferrerID == referrerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemoryStore) ActivateRelationship(_ context.Context, refereeID ledger.UserID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.relationships[refereeID]
	if !ok {
		return fmt.Errorf("%w: referee %s", ErrNotFound, refereeID)
	}
	if !r.IsActive {
		r.IsActive = true
		r.ActivatedAt = at
		m.relationships[refereeID] = r
	}
	return nil
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func (m *MemoryStore) SaveCommission(_ context.Context, c Commission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.commissions {
		if existing.RefereeID == c.RefereeID && existing.OrderID == c.OrderID {
			return fmt.Errorf("commission exists for referee %s order %s", c.RefereeID, c.OrderID)
		}
	}
	m.commissions = append(m.commissions, c)
	return nil
}

func (m *MemoryStore) CommissionByOrder(_ context.Context, refereeID ledger.UserID, orderID ledger.OrderID) (Commission, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.commissions {
		if c.RefereeID == refereeID && c.OrderID == orderID {
			return c, true, nil
		}
	}
	return Commission{}, false, nil
}

func (m *MemoryStore) CommissionsByReferrer(_ context.Context, referrerID ledger.UserID) ([]Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Commission
	for _, c := range m.commissions {
		if c.ReferrerID == referrerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) CommissionsPendingBetween(_ context.Context, from, to time.Time) ([]Commission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Commission
	for _, c := range m.commissions {
		if c.Status == CommissionPending && !c.CreatedAt.Before(from) && c.CreatedAt.Before(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetCommissionStatus(_ context.Context, id CommissionID, status CommissionStatus, settledAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.commissions {
		if m.commissions[i].ID != id {
			continue
		}
		if m.commissions[i].Status != CommissionPending {
			return fmt.Errorf("%w: %s is %s", ErrCommissionSettled, id, m.commissions[i].Status)
		}
		m.commissions[i].Status = status
		m.commissions[i].SettledAt = settledAt
		return nil
	}
	return fmt.Errorf("%w: commission %s", ErrNotFound, id)
}
