package fetch_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/cache"
	"github.com/illmade-knight/go-recordview/pkg/fetch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSourceOfTruth is a test double that simulates the remote API.
type mockSourceOfTruth struct {
	callCount atomic.Int32
	data      map[string]string
	err       error
}

func newMockSourceOfTruth() *mockSourceOfTruth {
	return &mockSourceOfTruth{
		data: map[string]string{
			"project:123": "Bridge rebuild",
			"project:456": "Canal survey",
		},
	}
}

func (m *mockSourceOfTruth) Fetch(_ context.Context, key string) (string, error) {
	m.callCount.Add(1)
	if m.err != nil {
		return "", m.err
	}
	if val, ok := m.data[key]; ok {
		return val, nil
	}
	return "", errors.New("not found in source")
}

// failingCache reports an error on every read.
type failingCache struct {
	*cache.InMemoryEntityCache[string, string]
}

func (f failingCache) Get(context.Context, string) (cache.Entry[string, string], bool, error) {
	return cache.Entry[string, string]{}, false, errors.New("cache unavailable")
}

func TestCachedLoader_FallbackAndInvalidation(t *testing.T) {
	ctx := context.Background()
	const testKey = "project:123"

	// Arrange
	source := newMockSourceOfTruth()
	entityCache := cache.NewInMemoryEntityCache[string, string]()
	loader, err := fetch.NewCachedLoader[string, string]("project", entityCache, source.Fetch, nil, zerolog.Nop())
	require.NoError(t, err)

	t.Run("First Fetch causes cache miss and fallback", func(t *testing.T) {
		value, err := loader.Fetch(ctx, testKey)

		require.NoError(t, err)
		assert.Equal(t, "Bridge rebuild", value)
		assert.Equal(t, int32(1), source.callCount.Load(), "Source of truth should be called exactly once")
		entry, ok, _ := entityCache.Get(ctx, testKey)
		require.True(t, ok, "result should be written to the cache before Fetch returns")
		assert.Equal(t, "Bridge rebuild", entry.Value)
	})

	t.Run("Second Fetch is a cache hit", func(t *testing.T) {
		value, err := loader.Fetch(ctx, testKey)

		require.NoError(t, err)
		assert.Equal(t, "Bridge rebuild", value)
		assert.Equal(t, int32(1), source.callCount.Load(), "Source of truth should NOT be called on a cache hit")
	})

	t.Run("Fetch after invalidation causes a miss", func(t *testing.T) {
		require.NoError(t, loader.Invalidate(ctx, testKey))

		value, err := loader.Fetch(ctx, testKey)

		require.NoError(t, err)
		assert.Equal(t, "Bridge rebuild", value)
		assert.Equal(t, int32(2), source.callCount.Load())
	})
}

func TestCachedLoader_FailureDoesNotTouchCache(t *testing.T) {
	ctx := context.Background()

	// Arrange
	source := newMockSourceOfTruth()
	entityCache := cache.NewInMemoryEntityCache[string, string]()
	require.NoError(t, entityCache.Set(ctx, "project:456", "Canal survey (cached)"))
	loader, err := fetch.NewCachedLoader[string, string]("project", entityCache, source.Fetch, nil, zerolog.Nop())
	require.NoError(t, err)
	source.err = errors.New("source is down")

	// Act
	_, missErr := loader.Fetch(ctx, "project:999")
	cached, hitErr := loader.Fetch(ctx, "project:456")

	// Assert
	require.Error(t, missErr)
	assert.ErrorIs(t, missErr, source.err)
	_, ok, _ := entityCache.Get(ctx, "project:999")
	assert.False(t, ok, "a failed fetch must not create an entry")
	require.NoError(t, hitErr)
	assert.Equal(t, "Canal survey (cached)", cached, "a failed fetch must not alter other entries")
}

func TestCachedLoader_CacheReadErrorFallsBackToSource(t *testing.T) {
	// Arrange
	source := newMockSourceOfTruth()
	c := failingCache{cache.NewInMemoryEntityCache[string, string]()}
	loader, err := fetch.NewCachedLoader[string, string]("project", c, source.Fetch, fetch.NewDeduplicator(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	// Act
	value, err := loader.Fetch(context.Background(), "project:123")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Bridge rebuild", value)
}

func TestNewCachedLoader_Validation(t *testing.T) {
	_, err := fetch.NewCachedLoader[string, string]("x", nil, nil, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestCachedLoader_InvalidateDuringInFlightFetch(t *testing.T) {
	ctx := context.Background()

	// Arrange
	var calls atomic.Int32
	var current atomic.Value
	current.Store("old")
	release := make(chan struct{})
	source := func(_ context.Context, key string) (string, error) {
		value := current.Load().(string)
		if calls.Add(1) == 1 {
			<-release
		}
		return value, nil
	}
	entityCache := cache.NewInMemoryEntityCache[string, string]()
	loader, err := fetch.NewCachedLoader[string, string]("project", entityCache, source, fetch.NewDeduplicator(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	first := make(chan string, 1)
	go func() {
		v, _ := loader.Fetch(ctx, "p1")
		first <- v
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// Act
	current.Store("new")
	require.NoError(t, loader.Invalidate(ctx, "p1"))
	second, err := loader.Fetch(ctx, "p1")
	require.NoError(t, err)
	close(release)
	firstValue := <-first

	// Assert
	assert.Equal(t, "new", second, "a fetch after Invalidate must not join the earlier call")
	assert.Equal(t, "old", firstValue)
	assert.Equal(t, int32(2), calls.Load())
	entry, ok, _ := entityCache.Get(ctx, "p1")
	require.True(t, ok)
	assert.Equal(t, "new", entry.Value, "the overtaken fetch must not write its result back")
}
