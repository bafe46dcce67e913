package query_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/failure"
	"github.com/illmade-knight/go-recordview/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_FetchLifecycle(t *testing.T) {
	t.Run("Loading immediately, data after settle", func(t *testing.T) {
		// Arrange
		source := newControlledSource[string, project]()
		q := query.NewQuery[string, project](source.Fetch)
		t.Cleanup(q.Unmount)

		// Act
		q.Mount(context.Background(), "p1")

		// Assert: loading is visible before the call settles.
		initial := q.State()
		assert.True(t, initial.IsLoading)
		assert.False(t, initial.HasData)
		assert.Nil(t, initial.Err)

		source.next(t).Succeed(project{Title: "A"})
		settled := requireSettled(t, q.State)
		assert.False(t, settled.IsLoading)
		assert.True(t, settled.HasData)
		assert.Equal(t, "A", settled.Data.Title)
		assert.Nil(t, settled.Err)
	})

	t.Run("Failure is normalized into state", func(t *testing.T) {
		// Arrange
		source := newControlledSource[string, project]()
		q := query.NewQuery[string, project](source.Fetch)
		t.Cleanup(q.Unmount)

		// Act
		q.Mount(context.Background(), "p1")
		source.next(t).Fail(&failure.StatusError{Code: http.StatusNotFound})

		// Assert
		settled := requireSettled(t, q.State)
		require.NotNil(t, settled.Err)
		assert.Equal(t, failure.KindApplication, settled.Err.Kind)
		assert.Equal(t, http.StatusNotFound, settled.Err.Code)
		assert.False(t, settled.HasData, "data and error are mutually exclusive")
	})

	t.Run("Typed nil failure settles with data", func(t *testing.T) {
		// Arrange
		q := query.NewQuery[string, project](func(ctx context.Context, key string) (project, error) {
			var none *failure.Failure
			return project{Title: "A"}, none
		})
		t.Cleanup(q.Unmount)
		q.Mount(context.Background(), "p1")

		// Act
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		settled, err := q.Await(ctx)

		// Assert
		require.NoError(t, err)
		assert.True(t, settled.HasData)
		assert.Nil(t, settled.Err)
		assert.Equal(t, "A", settled.Data.Title)
	})

	t.Run("Panicking fetcher settles with an error", func(t *testing.T) {
		// Arrange
		q := query.NewQuery[string, project](func(ctx context.Context, key string) (project, error) {
			panic("decoder blew up")
		})
		t.Cleanup(q.Unmount)

		// Act
		q.Mount(context.Background(), "p1")

		// Assert
		settled := requireSettled(t, q.State)
		assert.False(t, settled.IsLoading)
		require.NotNil(t, settled.Err)
		assert.Equal(t, failure.KindUnexpected, settled.Err.Kind)
	})

	t.Run("Equal key does not refetch", func(t *testing.T) {
		// Arrange
		type descriptor struct {
			Kind string
			ID   string
		}
		source := newControlledSource[descriptor, project]()
		q := query.NewQuery[descriptor, project](source.Fetch)
		t.Cleanup(q.Unmount)
		q.Mount(context.Background(), descriptor{Kind: "project", ID: "p1"})
		source.next(t).Succeed(project{Title: "A"})
		requireSettled(t, q.State)

		// Act
		started := q.SetKey(descriptor{Kind: "project", ID: "p1"})

		// Assert
		assert.False(t, started)
		source.assertNoCall(t)
	})

	t.Run("Refetch clears the error and starts a cycle for the same key", func(t *testing.T) {
		// Arrange
		source := newControlledSource[string, project]()
		q := query.NewQuery[string, project](source.Fetch)
		t.Cleanup(q.Unmount)
		q.Mount(context.Background(), "p1")
		source.next(t).Fail(errors.New("boom"))
		requireSettled(t, q.State)

		// Act
		require.True(t, q.Refetch())

		// Assert
		loading := q.State()
		assert.True(t, loading.IsLoading)
		assert.Nil(t, loading.Err)
		call := source.next(t)
		assert.Equal(t, "p1", call.Key)
		call.Succeed(project{Title: "A"})
		assert.Equal(t, "A", requireSettled(t, q.State).Data.Title)
	})

	t.Run("SetKey before Mount only records the key", func(t *testing.T) {
		source := newControlledSource[string, project]()
		q := query.NewQuery[string, project](source.Fetch)

		assert.False(t, q.SetKey("p1"))
		source.assertNoCall(t)
		key, ok := q.Key()
		assert.True(t, ok)
		assert.Equal(t, "p1", key)
	})

	t.Run("Timeout option bounds a hung call", func(t *testing.T) {
		// Arrange
		q := query.NewQuery[string, project](func(ctx context.Context, key string) (project, error) {
			<-ctx.Done()
			return project{}, ctx.Err()
		}, query.WithTimeout(20*time.Millisecond))
		t.Cleanup(q.Unmount)

		// Act
		q.Mount(context.Background(), "p1")

		// Assert
		settled := requireSettled(t, q.State)
		require.NotNil(t, settled.Err)
		assert.Equal(t, failure.KindNetwork, settled.Err.Kind)
	})
}

func TestQuery_LatestCycleWins(t *testing.T) {
	// Arrange: p1 answers after 200ms, p2 after 50ms, neither honours cancellation.
	delays := map[string]time.Duration{"p1": 200 * time.Millisecond, "p2": 50 * time.Millisecond}
	titles := map[string]string{"p1": "A", "p2": "B"}
	q := query.NewQuery[string, project](func(ctx context.Context, key string) (project, error) {
		time.Sleep(delays[key])
		return project{Title: titles[key]}, nil
	})
	rec := &recorder[project]{}
	q.Subscribe(rec.record)
	t.Cleanup(q.Unmount)

	// Act
	q.Mount(context.Background(), "p1")
	require.True(t, q.SetKey("p2"))
	settled, err := q.Await(context.Background())
	require.NoError(t, err)
	q.Wait() // lets the late p1 response arrive

	// Assert
	assert.Equal(t, "B", settled.Data.Title)
	assert.Equal(t, "B", q.State().Data.Title)
	for _, s := range rec.all() {
		assert.NotEqual(t, "A", s.Data.Title, "the superseded p1 response must never be observed")
		assert.False(t, s.HasData && s.Err != nil)
	}
}

func TestQuery_SupersededCycleIsCancelledAndDiscarded(t *testing.T) {
	// Arrange
	source := newControlledSource[string, project]()
	q := query.NewQuery[string, project](source.Fetch)
	rec := &recorder[project]{}
	q.Subscribe(rec.record)
	t.Cleanup(q.Unmount)

	q.Mount(context.Background(), "p1")
	first := source.next(t)
	q.SetKey("p2")
	second := source.next(t)

	// Act: the newer call settles first, then the stale one.
	second.Succeed(project{Title: "B"})
	requireSettled(t, q.State)
	writes := rec.count()
	first.Succeed(project{Title: "A"})
	q.Wait()

	// Assert
	assert.ErrorIs(t, first.Ctx.Err(), context.Canceled, "superseded cycle's context is cancelled")
	assert.Equal(t, "B", q.State().Data.Title)
	assert.Equal(t, writes, rec.count(), "stale cycle must not write")
}

func TestQuery_NoWriteAfterUnmount(t *testing.T) {
	for _, tc := range []struct {
		name   string
		settle func(*pendingCall[string, project])
	}{
		{"resolve", func(c *pendingCall[string, project]) { c.Succeed(project{Title: "late"}) }},
		{"reject", func(c *pendingCall[string, project]) { c.Fail(errors.New("late failure")) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			// Arrange
			source := newControlledSource[string, project]()
			q := query.NewQuery[string, project](source.Fetch)
			rec := &recorder[project]{}
			q.Subscribe(rec.record)
			q.Mount(context.Background(), "p1")
			call := source.next(t)

			// Act
			q.Unmount()
			writesAtUnmount := rec.count()
			stateAtUnmount := q.State()
			tc.settle(call)
			q.Wait()

			// Assert
			assert.ErrorIs(t, call.Ctx.Err(), context.Canceled)
			assert.Equal(t, writesAtUnmount, rec.count(), "no state write may happen after unmount")
			assert.Equal(t, stateAtUnmount, q.State())
			assert.False(t, q.SetKey("p2"), "an unmounted query does not fetch")
			source.assertNoCall(t)
		})
	}
}

func TestQuery_SubscribersMayReadState(t *testing.T) {
	// Arrange
	source := newControlledSource[string, project]()
	q := query.NewQuery[string, project](source.Fetch)
	t.Cleanup(q.Unmount)
	seen := make(chan query.State[project], 8)
	q.Subscribe(func(s query.State[project]) {
		seen <- q.State()
	})

	// Act
	q.Mount(context.Background(), "p1")
	source.next(t).Succeed(project{Title: "A"})

	// Assert
	require.Eventually(t, func() bool { return len(seen) == 2 }, time.Second, 5*time.Millisecond)
}

func TestQuery_AwaitUnmounted(t *testing.T) {
	q := query.NewQuery[string, project](func(ctx context.Context, key string) (project, error) {
		return project{}, nil
	})

	_, err := q.Await(context.Background())

	assert.ErrorIs(t, err, query.ErrNotMounted)
}
