package query_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/failure"
	"github.com/illmade-knight/go-recordview/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rename struct {
	Name string
}

func TestMutation_Success(t *testing.T) {
	// Arrange
	source := newControlledSource[rename, project]()
	var successCalls atomic.Int32
	var stateAtSuccess query.State[project]
	var m *query.Mutation[rename, project]
	m = query.NewMutation[rename, project](source.Fetch,
		query.WithOnSuccess(func(p project) {
			successCalls.Add(1)
			stateAtSuccess = m.State()
		}),
		query.WithOnError[project](func(*failure.Failure) { t.Error("OnError must not run on success") }),
	)

	// Act
	done := make(chan query.State[project], 1)
	go func() { done <- m.Mutate(context.Background(), rename{Name: "x"}) }()
	call := source.next(t)

	// Assert: loading is visible while the call is in flight.
	assert.True(t, m.State().IsLoading)
	assert.Equal(t, "x", call.Key.Name)

	call.Succeed(project{Title: "x"})
	result := <-done
	assert.True(t, result.HasData)
	assert.Equal(t, "x", result.Data.Title)
	assert.False(t, m.State().IsLoading)
	assert.Equal(t, int32(1), successCalls.Load())
	assert.False(t, stateAtSuccess.IsLoading, "OnSuccess runs after the state has settled")
	assert.Equal(t, "x", stateAtSuccess.Data.Title)
}

func TestMutation_FailureIsNotReturnedAsError(t *testing.T) {
	t.Run("returned error", func(t *testing.T) {
		// Arrange
		var reported *failure.Failure
		m := query.NewMutation[rename, project](
			func(ctx context.Context, v rename) (project, error) {
				return project{}, &failure.StatusError{Code: http.StatusForbidden, Message: "read only"}
			},
			query.WithOnError[project](func(f *failure.Failure) { reported = f }),
		)

		// Act
		result := m.Mutate(context.Background(), rename{Name: "x"})

		// Assert
		require.NotNil(t, result.Err)
		assert.Equal(t, http.StatusForbidden, result.Err.Code)
		assert.False(t, result.HasData)
		assert.Same(t, result.Err, reported)
		assert.False(t, m.State().IsLoading)
		assert.Same(t, result.Err, m.State().Err)
	})

	t.Run("panic", func(t *testing.T) {
		// Arrange
		var errorCalls atomic.Int32
		cause := errors.New("nil session")
		m := query.NewMutation[rename, project](
			func(ctx context.Context, v rename) (project, error) {
				panic(cause)
			},
			query.WithOnError[project](func(*failure.Failure) { errorCalls.Add(1) }),
		)

		// Act
		result := m.Mutate(context.Background(), rename{})

		// Assert
		require.NotNil(t, result.Err)
		assert.False(t, m.State().IsLoading, "loading must never stick after a panic")
		assert.Equal(t, int32(1), errorCalls.Load())
		var ve *failure.ValueError
		require.ErrorAs(t, result.Err, &ve)
		assert.Equal(t, cause, ve.Value)
	})
}

func TestMutation_LatestInitiatedCallWins(t *testing.T) {
	// Arrange
	source := newControlledSource[rename, project]()
	var mu sync.Mutex
	var successes []string
	var failures int
	m := query.NewMutation[rename, project](source.Fetch,
		query.WithOnSuccess(func(p project) {
			mu.Lock()
			defer mu.Unlock()
			successes = append(successes, p.Title)
		}),
		query.WithOnError[project](func(*failure.Failure) {
			mu.Lock()
			defer mu.Unlock()
			failures++
		}),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.Mutate(context.Background(), rename{Name: "x"}) }()
	first := source.next(t)
	go func() { defer wg.Done(); m.Mutate(context.Background(), rename{Name: "y"}) }()
	second := source.next(t)

	// Act: the second call's response arrives before the first's.
	second.Succeed(project{Title: "y"})
	require.Eventually(t, func() bool { return m.State().Settled() }, time.Second, 5*time.Millisecond)
	first.Fail(errors.New("first call failed late"))
	wg.Wait()

	// Assert
	state := m.State()
	assert.Equal(t, "y", state.Data.Title)
	assert.Nil(t, state.Err, "the older call's failure must not be exposed")
	assert.False(t, state.IsLoading)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"y"}, successes, "each call reports its own outcome once")
	assert.Equal(t, 1, failures)
}

func TestMutation_UnmountDropsWritesAndCallbacks(t *testing.T) {
	// Arrange
	source := newControlledSource[rename, project]()
	var callbacks atomic.Int32
	m := query.NewMutation[rename, project](source.Fetch,
		query.WithOnSuccess(func(project) { callbacks.Add(1) }),
	)
	rec := &recorder[project]{}
	m.Subscribe(rec.record)

	done := make(chan query.State[project], 1)
	go func() { done <- m.Mutate(context.Background(), rename{Name: "x"}) }()
	call := source.next(t)

	// Act
	m.Unmount()
	writes := rec.count()
	call.Succeed(project{Title: "x"})
	result := <-done

	// Assert
	assert.True(t, result.HasData, "the caller still receives its own result")
	assert.Equal(t, writes, rec.count())
	assert.True(t, m.State().IsLoading, "state is frozen at unmount")
	assert.Equal(t, int32(0), callbacks.Load())
}
