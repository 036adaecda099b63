package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryTokenCache is an in-process fallback used when redis is down or
// not configured. Entries honor the same TTL semantics as the redis cache.
type MemoryTokenCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{entries: make(map[string]memoryEntry)}
}

func (m *MemoryTokenCache) Get(_ context.Context, account string) (string, error) {
	m.mu.RLock()
	entry, ok := m.entries[account]
	m.mu.RUnlock()
	if !ok {
		return "", nil
	}
	if time.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, account)
		m.mu.Unlock()
		return "", nil
	}
	return entry.token, nil
}

func (m *MemoryTokenCache) Set(_ context.Context, account, token string, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[account] = memoryEntry{token: token, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokenCache) Delete(_ context.Context, account string) error {
	m.mu.Lock()
	delete(m.entries, account)
	m.mu.Unlock()
	return nil
}
