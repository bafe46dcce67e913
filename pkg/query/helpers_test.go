package query_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/query"
	"github.com/stretchr/testify/require"
)

type project struct {
	Title string
}

// pendingCall is one remote call waiting for the test to settle it.
type pendingCall[K any, T any] struct {
	Key     K
	Ctx     context.Context
	resolve chan outcome[T]
}

type outcome[T any] struct {
	value T
	err   error
}

func (c *pendingCall[K, T]) Succeed(v T)    { c.resolve <- outcome[T]{value: v} }
func (c *pendingCall[K, T]) Fail(err error) { c.resolve <- outcome[T]{err: err} }

// controlledSource is a remote call adapter whose calls settle only when the
// test says so. Like a transport without abort support, it ignores ctx.
type controlledSource[K any, T any] struct {
	calls chan *pendingCall[K, T]
}

func newControlledSource[K any, T any]() *controlledSource[K, T] {
	return &controlledSource[K, T]{calls: make(chan *pendingCall[K, T], 64)}
}

func (s *controlledSource[K, T]) Fetch(ctx context.Context, key K) (T, error) {
	c := &pendingCall[K, T]{Key: key, Ctx: ctx, resolve: make(chan outcome[T], 1)}
	s.calls <- c
	o := <-c.resolve
	return o.value, o.err
}

func (s *controlledSource[K, T]) next(t *testing.T) *pendingCall[K, T] {
	t.Helper()
	select {
	case c := <-s.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a remote call")
		return nil
	}
}

func (s *controlledSource[K, T]) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-s.calls:
		t.Fatalf("unexpected remote call for key %v", c.Key)
	case <-time.After(30 * time.Millisecond):
	}
}

// recorder keeps every state written to a hook.
type recorder[T any] struct {
	mu     sync.Mutex
	states []query.State[T]
}

func (r *recorder[T]) record(s query.State[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder[T]) all() []query.State[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]query.State[T](nil), r.states...)
}

func (r *recorder[T]) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func requireSettled[T any](t *testing.T, get func() query.State[T]) query.State[T] {
	t.Helper()
	require.Eventually(t, func() bool { return get().Settled() }, 2*time.Second, 5*time.Millisecond)
	return get()
}
