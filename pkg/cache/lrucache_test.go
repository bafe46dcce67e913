package cache_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-recordview/pkg/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUEntityCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Eviction policy works correctly", func(t *testing.T) {
		// Arrange: a cache with a max size of 2.
		lru, err := cache.NewLRUEntityCache[string, int](2, zerolog.Nop())
		require.NoError(t, err)

		// Act 1: Fill the cache.
		require.NoError(t, lru.Set(ctx, "key1", 1))
		require.NoError(t, lru.Set(ctx, "key2", 2))

		// Act 2: Access key1 again so key2 becomes the least recently used.
		_, ok, err := lru.Get(ctx, "key1")
		require.NoError(t, err)
		require.True(t, ok)

		// Act 3: Adding key3 should evict key2.
		require.NoError(t, lru.Set(ctx, "key3", 3))

		// Assert
		_, ok, _ = lru.Get(ctx, "key2")
		assert.False(t, ok, "key2 should have been evicted")
		entry, ok, _ := lru.Get(ctx, "key1")
		assert.True(t, ok, "key1 should still be cached")
		assert.Equal(t, 1, entry.Value)
		assert.Equal(t, 2, lru.Len())
	})

	t.Run("Set on an existing key replaces the value without growing", func(t *testing.T) {
		// Arrange
		lru, err := cache.NewLRUEntityCache[string, int](2, zerolog.Nop())
		require.NoError(t, err)

		// Act
		require.NoError(t, lru.Set(ctx, "key1", 1))
		require.NoError(t, lru.Set(ctx, "key1", 10))
		entry, ok, err := lru.Get(ctx, "key1")

		// Assert
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 10, entry.Value)
		assert.Equal(t, 1, lru.Len())
	})

	t.Run("Invalidate and Clear", func(t *testing.T) {
		// Arrange
		lru, err := cache.NewLRUEntityCache[string, int](3, zerolog.Nop())
		require.NoError(t, err)
		require.NoError(t, lru.Set(ctx, "a", 1))
		require.NoError(t, lru.Set(ctx, "b", 2))

		// Act
		require.NoError(t, lru.Invalidate(ctx, "a"))

		// Assert
		_, ok, _ := lru.Get(ctx, "a")
		assert.False(t, ok)
		assert.Equal(t, 1, lru.Len())

		require.NoError(t, lru.Clear(ctx))
		assert.Equal(t, 0, lru.Len())
	})

	t.Run("Invalid size", func(t *testing.T) {
		_, err := cache.NewLRUEntityCache[string, int](0, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "maxSize must be greater than 0")
	})
}
