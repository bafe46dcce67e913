package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type project struct {
	ID    string
	Title string
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestInMemoryEntityCache(t *testing.T) {
	ctx := context.Background()
	fetchedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Set then Get returns the value", func(t *testing.T) {
		// Arrange
		c := cache.NewInMemoryEntityCache[string, project](cache.WithClock(fixedClock(fetchedAt)))

		// Act
		require.NoError(t, c.Set(ctx, "p1", project{ID: "p1", Title: "A"}))
		entry, ok, err := c.Get(ctx, "p1")

		// Assert
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "p1", entry.Key)
		assert.Equal(t, "A", entry.Value.Title)
		assert.Equal(t, fetchedAt, entry.FetchedAt)
	})

	t.Run("Invalidate then Get is a miss", func(t *testing.T) {
		// Arrange
		c := cache.NewInMemoryEntityCache[string, project]()
		require.NoError(t, c.Set(ctx, "p1", project{ID: "p1"}))

		// Act
		require.NoError(t, c.Invalidate(ctx, "p1"))
		_, ok, err := c.Get(ctx, "p1")

		// Assert
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Second Set supersedes the first", func(t *testing.T) {
		// Arrange
		c := cache.NewInMemoryEntityCache[string, project]()

		// Act
		require.NoError(t, c.Set(ctx, "p1", project{Title: "first"}))
		require.NoError(t, c.Set(ctx, "p1", project{Title: "second"}))
		entry, ok, err := c.Get(ctx, "p1")

		// Assert
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "second", entry.Value.Title)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("Invalidate of a missing key is not an error", func(t *testing.T) {
		c := cache.NewInMemoryEntityCache[string, project]()
		assert.NoError(t, c.Invalidate(ctx, "missing"))
	})

	t.Run("Clear removes every entry", func(t *testing.T) {
		// Arrange
		c := cache.NewInMemoryEntityCache[string, project]()
		require.NoError(t, c.Set(ctx, "p1", project{}))
		require.NoError(t, c.Set(ctx, "p2", project{}))

		// Act
		require.NoError(t, c.Clear(ctx))

		// Assert
		assert.Equal(t, 0, c.Len())
	})

	t.Run("Entries are not expired by age", func(t *testing.T) {
		// Arrange
		c := cache.NewInMemoryEntityCache[string, project](cache.WithClock(fixedClock(time.Unix(0, 0))))
		require.NoError(t, c.Set(ctx, "old", project{Title: "ancient"}))

		// Act
		entry, ok, err := c.Get(ctx, "old")

		// Assert
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "ancient", entry.Value.Title)
	})

	t.Run("Writes are visible to concurrent readers", func(t *testing.T) {
		// Arrange
		c := cache.NewInMemoryEntityCache[int, int]()
		var wg sync.WaitGroup

		// Act
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = c.Set(ctx, i, i*i)
				entry, ok, _ := c.Get(ctx, i)
				assert.True(t, ok)
				assert.Equal(t, i*i, entry.Value)
			}(i)
		}
		wg.Wait()

		// Assert
		assert.Equal(t, 50, c.Len())
	})
}
