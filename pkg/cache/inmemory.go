// cache/inmemory.go
package cache

import (
	"context"
	"sync"
	"time"
)

// InMemoryEntityCache is a generic, thread-safe, in-memory entity cache.
// It never evicts on its own.
type InMemoryEntityCache[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]Entry[K, V]
	now  func() time.Time
}

// NewInMemoryEntityCache creates a new in-memory entity cache.
func NewInMemoryEntityCache[K comparable, V any](opts ...Option) *InMemoryEntityCache[K, V] {
	o := buildOptions(opts)
	return &InMemoryEntityCache[K, V]{
		data: make(map[K]Entry[K, V]),
		now:  o.now,
	}
}

// Get retrieves an entry from the cache.
func (c *InMemoryEntityCache[K, V]) Get(_ context.Context, key K) (Entry[K, V], bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.data[key]
	return entry, ok, nil
}

// Set stores value for key, stamping it with the current time.
func (c *InMemoryEntityCache[K, V]) Set(_ context.Context, key K, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = Entry[K, V]{Key: key, Value: value, FetchedAt: c.now()}
	return nil
}

// Invalidate removes key from the cache.
func (c *InMemoryEntityCache[K, V]) Invalidate(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Clear removes every entry.
func (c *InMemoryEntityCache[K, V]) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[K]Entry[K, V])
	return nil
}

// Len returns the number of cached entries.
func (c *InMemoryEntityCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Close is a no-op for the in-memory cache.
func (c *InMemoryEntityCache[K, V]) Close() error {
	return nil
}
