package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/aretw0/weft/pkg/domain"
)

// Store keeps ledger snapshots in process memory. Useful for tests and for replicas
// of one process sharing a ledger through the same Store value.
type Store struct {
	data map[string]*domain.Snapshot
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.Snapshot),
	}
}

// Save persists a deep copy of the snapshot.
func (s *Store) Save(ctx context.Context, ledgerID string, snap *domain.Snapshot) error {
	copied := snap.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ledgerID] = copied
	return nil
}

// Load retrieves a copy of the snapshot so callers cannot mutate the stored value.
func (s *Store) Load(ctx context.Context, ledgerID string) (*domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[ledgerID]
	if !ok {
		return nil, domain.ErrLedgerNotFound
	}
	return snap.Clone(), nil
}

// Delete removes the snapshot.
func (s *Store) Delete(ctx context.Context, ledgerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, ledgerID)
	return nil
}

// List returns the stored ledger IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.data)), nil
}
