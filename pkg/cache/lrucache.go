package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LRUEntityCache is a thread-safe, in-memory entity cache with a fixed size and
// a Least Recently Used eviction policy. It is an opt-in bound for long-lived
// sessions; eviction is triggered by size only, never by age.
type LRUEntityCache[K comparable, V any] struct {
	maxSize int
	now     func() time.Time
	logger  zerolog.Logger

	mu    sync.Mutex
	ll    *list.List          // Used to track the order of items (recency).
	items map[K]*list.Element // Used for fast key lookups.
}

// NewLRUEntityCache creates a new size-limited entity cache.
// maxSize is the maximum number of entries to keep and must be > 0.
func NewLRUEntityCache[K comparable, V any](maxSize int, logger zerolog.Logger, opts ...Option) (*LRUEntityCache[K, V], error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("maxSize must be greater than 0")
	}
	o := buildOptions(opts)
	return &LRUEntityCache[K, V]{
		maxSize: maxSize,
		now:     o.now,
		logger:  logger.With().Str("component", "LRUEntityCache").Logger(),
		ll:      list.New(),
		items:   make(map[K]*list.Element),
	}, nil
}

// Get returns the entry for key and marks it as most recently used.
func (c *LRUEntityCache[K, V]) Get(_ context.Context, key K) (Entry[K, V], bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.ll.MoveToFront(elem)
		return *elem.Value.(*Entry[K, V]), true, nil
	}
	return Entry[K, V]{}, false, nil
}

// Set stores value for key. If the cache is over capacity afterwards, the least
// recently used entry is evicted.
func (c *LRUEntityCache[K, V]) Set(_ context.Context, key K, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &Entry[K, V]{Key: key, Value: value, FetchedAt: c.now()}
	if elem, ok := c.items[key]; ok {
		elem.Value = entry
		c.ll.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.ll.PushFront(entry)
	if c.ll.Len() > c.maxSize {
		c.evict()
	}
	return nil
}

// Invalidate removes key from the cache.
func (c *LRUEntityCache[K, V]) Invalidate(_ context.Context, key K) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.ll.Remove(elem)
		delete(c.items, key)
	}
	return nil
}

// Clear removes every entry.
func (c *LRUEntityCache[K, V]) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[K]*list.Element)
	return nil
}

// Len returns the number of cached entries.
func (c *LRUEntityCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// evict removes the least recently used item from the cache.
// This method is unexported and must be called within a locked mutex.
func (c *LRUEntityCache[K, V]) evict() {
	elementToRemove := c.ll.Back()
	if elementToRemove != nil {
		removed := c.ll.Remove(elementToRemove).(*Entry[K, V])
		delete(c.items, removed.Key)
		c.logger.Debug().Str("key", fmt.Sprintf("%v", removed.Key)).Msg("Evicted least recently used entry.")
	}
}

// Close is a no-op for the in-memory cache.
func (c *LRUEntityCache[K, V]) Close() error {
	return nil
}
