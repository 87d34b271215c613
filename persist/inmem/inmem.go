// Package inmem is a process-local persist.Store, useful for tests and for
// single-process deployments that don't need a durable snapshot backend.
package inmem

import (
	"context"
	"sync"

	"github.com/relayforge/gadgetloop/persist"
)

// Store holds snapshots in a map guarded by a mutex.
type Store struct {
	mu   sync.RWMutex
	byID map[string]persist.Snapshot
}

// New constructs an empty Store.
func New() *Store {
	return &Store{byID: make(map[string]persist.Snapshot)}
}

// Save implements persist.Store.
func (s *Store) Save(_ context.Context, snap persist.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[snap.RunID] = snap
	return nil
}

// Load implements persist.Store.
func (s *Store) Load(_ context.Context, runID string) (persist.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.byID[runID]
	return snap, ok, nil
}
