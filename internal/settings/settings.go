// Package settings is the durable key/value store the engine persists its
// live stream configuration into.
package settings

import (
	"sync"
)

// Store is a string key/value store. Get never fails: a missing or
// unreadable key yields def.
type Store interface {
	Get(key, def string) string
	Put(key, value string) error
	Close() error
}

// MemoryStore keeps settings in process memory only.
type MemoryStore struct {
	mu   sync.RWMutex
	vals map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vals: make(map[string]string)}
}

// Get returns the stored value or def.
func (m *MemoryStore) Get(key, def string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.vals[key]; ok {
		return v
	}
	return def
}

// Put stores value under key.
func (m *MemoryStore) Put(key, value string) error {
	m.mu.Lock()
	m.vals[key] = value
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
