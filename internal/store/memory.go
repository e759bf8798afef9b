package store

import (
	"context"
	"sync"

	"github.com/jonathan/brigade/internal/types"
)

// MemoryStore keeps the encoded snapshot in memory. Saves round-trip through JSON so
// callers observe the same decoding as the persistent backends.
type MemoryStore struct {
	mu    sync.Mutex
	data  []byte
	saves int
	// FailSave, when set, is returned by SaveAll
	FailSave error
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// LoadAll implements Store
func (m *MemoryStore) LoadAll(_ context.Context) ([]types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return decode(m.data)
}

// SaveAll implements Store
func (m *MemoryStore) SaveAll(_ context.Context, sessions []types.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSave != nil {
		return m.FailSave
	}
	data, err := encode(sessions)
	if err != nil {
		return err
	}
	m.data = data
	m.saves++
	return nil
}

// Saves returns how many snapshots have been written
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}
