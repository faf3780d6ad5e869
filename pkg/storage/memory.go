package storage

import (
	"sync"
)

// DefaultKey names the checkpoint when none is configured.
const DefaultKey = "block_height"

// Persistence stores the next height to scan.
type Persistence interface {
	// LoadCursor reads the checkpoint stored under key. ok is false when
	// nothing was saved yet.
	LoadCursor(key string) (height uint64, ok bool, err error)

	// SaveCursor replaces the checkpoint. Saving the same height twice is
	// harmless.
	SaveCursor(key string, height uint64) error

	// Close releases resources
	Close() error
}

// MemoryStore keeps checkpoints in memory. Data is lost on restart.
type MemoryStore struct {
	data   map[string]uint64
	prefix string
	mu     sync.RWMutex
}

// NewMemoryStore initializes a new in-memory storage.
func NewMemoryStore(prefix string) *MemoryStore {
	return &MemoryStore{
		data:   make(map[string]uint64),
		prefix: prefix,
	}
}

// LoadCursor retrieves the checkpoint from memory.
func (m *MemoryStore) LoadCursor(key string) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.data[m.prefix+key]
	return h, ok, nil
}

// SaveCursor updates the checkpoint in memory.
func (m *MemoryStore) SaveCursor(key string, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[m.prefix+key] = height
	return nil
}

// Close implements the Persistence interface.
func (m *MemoryStore) Close() error {
	return nil
}
