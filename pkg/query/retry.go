package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-recordview/pkg/fetch"
)

// RetryKey folds a retry token into a dependency key. Two keys with different
// tokens are different descriptors, which is what forces a refetch.
type RetryKey[K comparable] struct {
	Key   K
	Token uint64
}

func (k RetryKey[K]) String() string {
	return fmt.Sprintf("%v#%d", k.Key, k.Token)
}

// Invalidator drops any cached copy of key ahead of a retry.
type Invalidator[K comparable] func(ctx context.Context, key K) error

// Retrying wraps a Query with a user-triggered retry. OnRetry is the only way
// it refetches without a key change, and it never alters the key itself.
type Retrying[K comparable, T any] struct {
	query      *Query[RetryKey[K], T]
	invalidate Invalidator[K]

	// order keeps key and token changes reaching the query in the order they
	// were made.
	order  sync.Mutex
	mu     sync.Mutex
	ctx    context.Context
	key    K
	hasKey bool
	token  uint64
}

// NewRetrying creates an unmounted Retrying presenter around fetcher. When
// invalidate is not nil it runs before every retry cycle so that a cached copy
// cannot satisfy the retry. The fetcher sees the token as fetch.Attempt, so a
// retry never joins a de-duplicated call still in flight.
func NewRetrying[K comparable, T any](fetcher fetch.Fetcher[K, T], invalidate Invalidator[K], opts ...Option) *Retrying[K, T] {
	inner := func(ctx context.Context, rk RetryKey[K]) (T, error) {
		if rk.Token > 0 {
			ctx = fetch.WithAttempt(ctx, rk.Token)
		}
		return fetcher(ctx, rk.Key)
	}
	return &Retrying[K, T]{
		query:      NewQuery[RetryKey[K], T](inner, opts...),
		invalidate: invalidate,
	}
}

// Mount activates the presenter for key with the current retry token.
func (r *Retrying[K, T]) Mount(ctx context.Context, key K) {
	r.order.Lock()
	defer r.order.Unlock()
	r.mu.Lock()
	r.ctx = ctx
	r.key = key
	r.hasKey = true
	rk := RetryKey[K]{Key: key, Token: r.token}
	r.mu.Unlock()
	r.query.Mount(ctx, rk)
}

// SetKey changes the dependency key and keeps the retry token.
func (r *Retrying[K, T]) SetKey(key K) bool {
	r.order.Lock()
	defer r.order.Unlock()
	r.mu.Lock()
	r.key = key
	r.hasKey = true
	rk := RetryKey[K]{Key: key, Token: r.token}
	r.mu.Unlock()
	return r.query.SetKey(rk)
}

// OnRetry increments the retry token, which starts a new fetch cycle that
// supersedes any cycle still in flight. It returns the new token. Like SetKey
// it must not be called from a subscriber on the notifying goroutine.
func (r *Retrying[K, T]) OnRetry() uint64 {
	r.order.Lock()
	defer r.order.Unlock()
	r.mu.Lock()
	r.token++
	token := r.token
	key, hasKey, ctx := r.key, r.hasKey, r.ctx
	r.mu.Unlock()

	if !hasKey {
		return token
	}
	if r.invalidate != nil && ctx != nil && r.query.Mounted() {
		if err := r.invalidate(ctx, key); err != nil {
			r.query.logger.Warn().Err(err).Str("key", fmt.Sprintf("%v", key)).Msg("Failed to invalidate before retry.")
		}
	}
	r.query.SetKey(RetryKey[K]{Key: key, Token: token})
	return token
}

// Token returns the current retry token.
func (r *Retrying[K, T]) Token() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

// CanRetry reports whether the current state offers a retry, which is the
// case once a cycle has settled with an error.
func (r *Retrying[K, T]) CanRetry() bool {
	s := r.query.State()
	return !s.IsLoading && s.Err != nil
}

// State returns the wrapped query's state.
func (r *Retrying[K, T]) State() State[T] {
	return r.query.State()
}

// Subscribe registers fn for every state write of the wrapped query.
func (r *Retrying[K, T]) Subscribe(fn func(State[T])) func() {
	return r.query.Subscribe(fn)
}

// Await blocks until the wrapped query holds a settled state.
func (r *Retrying[K, T]) Await(ctx context.Context) (State[T], error) {
	return r.query.Await(ctx)
}

// Unmount deactivates the wrapped query.
func (r *Retrying[K, T]) Unmount() {
	r.query.Unmount()
}
