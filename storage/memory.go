package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/saiset-co/sai-offline/types"
)

// MemoryStore is a process-local KVStore. It backs tests, the "memory"
// storage type and the degraded mode of Resilient.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, types.ErrStorageKeyEmpty
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, false, types.ErrStorageClosed
	}

	value, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(value), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return types.ErrStorageKeyEmpty
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.ErrStorageClosed
	}

	m.data[key] = cloneBytes(value)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.ErrStorageClosed
	}

	delete(m.data, key)
	return nil
}

func (m *MemoryStore) MultiGet(_ context.Context, keys []string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, types.ErrStorageClosed
	}

	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if value, ok := m.data[key]; ok {
			result[key] = cloneBytes(value)
		}
	}
	return result, nil
}

func (m *MemoryStore) MultiSet(_ context.Context, entries map[string][]byte) error {
	for key := range entries {
		if key == "" {
			return types.ErrStorageKeyEmpty
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.ErrStorageClosed
	}

	for key, value := range entries {
		m.data[key] = cloneBytes(value)
	}
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return types.ErrStorageClosed
	}

	m.data = make(map[string][]byte)
	return nil
}

func (m *MemoryStore) ListKeys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, types.ErrStorageClosed
	}

	keys := make([]string, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
