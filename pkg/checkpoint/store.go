package checkpoint

import (
	"context"
	"sync"
)

// Store is the persistence capability checkpoints are written through. Records
// are keyed by a stable per-chain, per-witnesser name, so distinct witnesser
// identities never conflict. One Store handle is shared process-wide.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the persisted checkpoint for the named witnesser, or nil
	// if none exists.
	Load(ctx context.Context, name string) (*WitnessedUntil, error)

	// Put upserts the checkpoint for the named witnesser.
	Put(ctx context.Context, name string, value WitnessedUntil) error

	Close() error
}

// InMemoryStore is a Store for tests and ephemeral deployments.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]WitnessedUntil
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]WitnessedUntil)}
}

// Load implements Store.
func (s *InMemoryStore) Load(_ context.Context, name string) (*WitnessedUntil, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.records[name]; ok {
		out := v
		return &out, nil
	}
	return nil, nil
}

// Put implements Store.
func (s *InMemoryStore) Put(_ context.Context, name string, value WitnessedUntil) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[name] = value
	return nil
}

// All returns every persisted checkpoint keyed by witnesser name.
func (s *InMemoryStore) All(_ context.Context) (map[string]WitnessedUntil, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]WitnessedUntil, len(s.records))
	for name, v := range s.records {
		out[name] = v
	}
	return out, nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error { return nil }
