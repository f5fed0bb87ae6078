package cache

import (
	"context"
	"sync"
	"time"
)

// ensure Memory implements Store
var _ Store = (*Memory)(nil)

type memEntry struct {
	val     []byte
	expires time.Time
}

// Memory is a process-local Store guarded by a single mutex.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry
	writes  int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.val...), true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.entries[key] = memEntry{val: append([]byte(nil), val...), expires: now.Add(ttl)}

	// Sweep expired entries every 1024 writes.
	m.writes++
	if m.writes%1024 == 0 {
		for k, e := range m.entries {
			if now.After(e.expires) {
				delete(m.entries, k)
			}
		}
	}
	return nil
}

// Len returns the number of entries, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) Close() error { return nil }
