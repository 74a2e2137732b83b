package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithCapacity bounds the number of entries. When full, expired entries are dropped
// first and then the entry closest to expiry.
func WithCapacity(n int) MemoryOption {
	return func(m *MemoryCache) { m.capacity = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryCache) { m.now = now }
}

// MemoryCache implements Cache in memory. It is safe for concurrent use.
type MemoryCache struct {
	mu       sync.RWMutex
	items    map[string]Entry
	capacity int
	now      func() time.Time
}

// NewMemoryCache creates an empty cache, unbounded unless WithCapacity is given.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	m := &MemoryCache{items: make(map[string]Entry), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryCache) Get(_ context.Context, key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.items[key]
	if !ok || entry.Expired(m.now()) {
		return nil, false
	}
	return entry.Value, true
}

// Set stores value; a non-positive ttl never expires.
func (m *MemoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if _, exists := m.items[key]; !exists && m.capacity > 0 && len(m.items) >= m.capacity {
		m.evict(now)
	}
	m.items[key] = Entry{Value: value, ExpiresAt: expiry(now, ttl)}
}

// evict frees one slot. Callers hold the write lock.
func (m *MemoryCache) evict(now time.Time) {
	m.cleanup(now)
	if len(m.items) < m.capacity {
		return
	}
	var victim string
	var soonest time.Time
	for key, entry := range m.items {
		if entry.ExpiresAt.IsZero() {
			if victim == "" && soonest.IsZero() {
				victim = key
			}
			continue
		}
		if soonest.IsZero() || entry.ExpiresAt.Before(soonest) {
			victim, soonest = key, entry.ExpiresAt
		}
	}
	delete(m.items, victim)
}

func (m *MemoryCache) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

func (m *MemoryCache) Clear(_ context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]Entry)
}

// Len returns the number of entries, including expired ones not yet cleaned up.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Cleanup removes expired entries.
func (m *MemoryCache) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanup(m.now())
}

func (m *MemoryCache) cleanup(now time.Time) {
	for key, entry := range m.items {
		if entry.Expired(now) {
			delete(m.items, key)
		}
	}
}

var _ Cache = (*MemoryCache)(nil)
