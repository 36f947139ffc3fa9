package kv

import (
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store with an optional byte quota.
//
// A quota of 0 means unlimited. The quota counts key and value bytes of all
// stored entries, which is enough fidelity to exercise quota-exceeded
// handling in tests without a real backing store.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]string
	quota int
	used  int
}

// NewMemoryStore creates a MemoryStore with no quota.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

// NewMemoryStoreWithQuota creates a MemoryStore limited to quota bytes.
func NewMemoryStoreWithQuota(quota int) *MemoryStore {
	return &MemoryStore{data: make(map[string]string), quota: quota}
}

func (m *MemoryStore) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.used + len(key) + len(value)
	if old, ok := m.data[key]; ok {
		next -= len(key) + len(old)
	}
	if m.quota > 0 && next > m.quota {
		return ErrQuotaExceeded
	}

	m.data[key] = value
	m.used = next
	return nil
}

func (m *MemoryStore) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.data[key]; ok {
		m.used -= len(key) + len(old)
		delete(m.data, key)
	}
}

func (m *MemoryStore) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
