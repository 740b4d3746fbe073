package discovery

import (
	"maps"
	"sync"
)

// Cache is a generic concurrent key-value cache of discovered neighbours.
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	cache map[K]V
}

// NewCache constructs a new cache using specified underlying map.
func NewCache[K comparable, V any](cache map[K]V) *Cache[K, V] {
	return &Cache[K, V]{
		cache: cache,
	}
}

// NewEmptyCache returns an empty cache.
func NewEmptyCache[K comparable, V any]() *Cache[K, V] {
	return NewCache(map[K]V{})
}

// Lookup returns the value for the specified key.
func (m *Cache[K, V]) Lookup(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.cache[key]
	return value, ok
}

// Insert stores the value, overwriting any previous one.
func (m *Cache[K, V]) Insert(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache[key] = value
}

// Update atomically replaces the value for the key with the result of fn.
//
// The callback receives the current value and whether it exists. When it
// returns false, the cache is left untouched.
func (m *Cache[K, V]) Update(key K, fn func(current V, exists bool) (V, bool)) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.cache[key]
	value, store := fn(current, exists)
	if store {
		m.cache[key] = value
	}
	return value, store
}

// Len returns the number of cached entries.
func (m *Cache[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.cache)
}

// Entries returns a copy of all entries in the cache.
func (m *Cache[K, V]) Entries() map[K]V {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.cache)
}
