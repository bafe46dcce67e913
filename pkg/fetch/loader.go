package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/cache"
	"github.com/illmade-knight/go-recordview/pkg/metrics"
	"github.com/rs/zerolog"
)

// CachedLoader fetches entities with a cache-then-source strategy. A cache hit
// is returned directly; a miss goes to the source and a successful result is
// written to the cache before Fetch returns. A failed fetch never touches the
// cache, and neither does a fetch that was overtaken by Invalidate or Clear.
type CachedLoader[K comparable, V any] struct {
	name   string
	cache  cache.EntityCache[K, V]
	source Fetcher[K, V]
	dedup  *Deduplicator
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[K]*writeGuard
}

// writeGuard counts the fetches in progress for one key. gen moves on every
// invalidation so that older fetches skip their write-back.
type writeGuard struct {
	fetches int
	gen     uint64
}

// NewCachedLoader creates a CachedLoader. When dedup is not nil, concurrent
// misses for the same key share one source call.
func NewCachedLoader[K comparable, V any](
	name string,
	entityCache cache.EntityCache[K, V],
	source Fetcher[K, V],
	dedup *Deduplicator,
	logger zerolog.Logger,
) (*CachedLoader[K, V], error) {
	if entityCache == nil || source == nil {
		return nil, fmt.Errorf("cache and source cannot be nil")
	}
	if dedup != nil {
		source = Dedupe(dedup, name, source)
	}
	return &CachedLoader[K, V]{
		name:   name,
		cache:  entityCache,
		source:  source,
		dedup:   dedup,
		pending: make(map[K]*writeGuard),
		logger:  logger.With().Str("component", "CachedLoader").Str("loader", name).Logger(),
	}, nil
}

// Fetch returns the cached value for key, or loads it from the source.
func (l *CachedLoader[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := fmt.Sprintf("%v", key)

	// 1. Try the cache.
	entry, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		l.logger.Warn().Err(err).Str("key", stringKey).Msg("Cache read failed, falling back to source.")
	} else if ok {
		metrics.CacheLookups.WithLabelValues(l.name, "hit").Inc()
		l.logger.Debug().Str("key", stringKey).Msg("Cache hit.")
		return entry.Value, nil
	}
	metrics.CacheLookups.WithLabelValues(l.name, "miss").Inc()

	// 2. Cache miss, fall back to the source.
	gen := l.begin(key)
	start := time.Now()
	value, err := l.source(ctx, key)
	metrics.SourceLatency.WithLabelValues(l.name).Observe(time.Since(start).Seconds())
	current := l.end(key, gen)
	if err != nil {
		l.logger.Debug().Err(err).Str("key", stringKey).Msg("Error fetching from source.")
		return zero, fmt.Errorf("error fetching %s from source: %w", stringKey, err)
	}

	// 3. Source hit, write back before returning so later readers see it.
	if !current {
		l.logger.Debug().Str("key", stringKey).Msg("Entity invalidated during fetch, skipping write-back.")
		return value, nil
	}
	if err := l.cache.Set(ctx, key, value); err != nil {
		l.logger.Error().Err(err).Str("key", stringKey).Msg("Failed to write to cache.")
	}
	return value, nil
}

// Invalidate drops key from the cache. Callers invoke it after a mutation
// that is known to change the entity. A source call already in flight for key
// is detached, so every Fetch issued after Invalidate reaches the source.
func (l *CachedLoader[K, V]) Invalidate(ctx context.Context, key K) error {
	l.mu.Lock()
	if g, ok := l.pending[key]; ok {
		g.gen++
	}
	l.mu.Unlock()
	if l.dedup != nil {
		l.dedup.Forget(l.name, key)
	}
	if err := l.cache.Invalidate(ctx, key); err != nil {
		return fmt.Errorf("invalidate %v: %w", key, err)
	}
	l.logger.Debug().Str("key", fmt.Sprintf("%v", key)).Msg("Cache entry invalidated.")
	return nil
}

// Peek returns the cached entry without touching the source.
func (l *CachedLoader[K, V]) Peek(ctx context.Context, key K) (cache.Entry[K, V], bool, error) {
	return l.cache.Get(ctx, key)
}

// Fetcher exposes the loader as a Fetcher for the query hooks.
func (l *CachedLoader[K, V]) Fetcher() Fetcher[K, V] {
	return l.Fetch
}

// Clear drops every cached entry, used when the session ends.
func (l *CachedLoader[K, V]) Clear(ctx context.Context) error {
	l.mu.Lock()
	for key, g := range l.pending {
		g.gen++
		if l.dedup != nil {
			l.dedup.Forget(l.name, key)
		}
	}
	l.mu.Unlock()
	if err := l.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear %s cache: %w", l.name, err)
	}
	return nil
}

func (l *CachedLoader[K, V]) begin(key K) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	g, ok := l.pending[key]
	if !ok {
		g = &writeGuard{}
		l.pending[key] = g
	}
	g.fetches++
	return g.gen
}

// end reports whether no invalidation happened since the matching begin.
func (l *CachedLoader[K, V]) end(key K, gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	g := l.pending[key]
	g.fetches--
	if g.fetches == 0 {
		delete(l.pending, key)
	}
	return g.gen == gen
}

// Close releases the cache.
func (l *CachedLoader[K, V]) Close() error {
	return l.cache.Close()
}
