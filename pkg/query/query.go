package query

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-recordview/pkg/failure"
	"github.com/illmade-knight/go-recordview/pkg/fetch"
	"github.com/illmade-knight/go-recordview/pkg/metrics"
	"github.com/rs/zerolog"
)

// Query runs a read-only remote call for the current dependency key and keeps
// its State. A new fetch cycle starts on Mount and whenever SetKey receives a
// key that is not equal to the current one.
//
// Every cycle has its own context, cancelled as soon as the cycle is
// superseded or the query is unmounted. A cycle whose result arrives after
// that point is discarded without writing anything.
//
// Subscribers are called in write order. They may read the Query but must not
// call Mount, SetKey, Refetch or Unmount on the notifying goroutine.
type Query[K comparable, T any] struct {
	fetch  fetch.Fetcher[K, T]
	cfg    config
	logger zerolog.Logger

	mu      sync.Mutex
	state   State[T]
	key     K
	hasKey  bool
	mounted bool
	gen     uint64
	parent  context.Context
	cancel  context.CancelFunc
	subs    subscribers[T]
	seq     uint64

	notes  *sequencer
	cycles sync.WaitGroup
}

// NewQuery creates an unmounted Query around fetcher.
func NewQuery[K comparable, T any](fetcher fetch.Fetcher[K, T], opts ...Option) *Query[K, T] {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Query[K, T]{
		fetch:  fetcher,
		cfg:    cfg,
		notes:  newSequencer(),
		logger: cfg.logger.With().Str("component", "Query").Str("query", cfg.name).Logger(),
	}
}

// Mount activates the query with key and starts the first fetch cycle. ctx
// bounds every cycle of this activation. Mounting an active query behaves like
// SetKey.
func (q *Query[K, T]) Mount(ctx context.Context, key K) {
	q.mu.Lock()
	if q.mounted {
		q.mu.Unlock()
		q.SetKey(key)
		return
	}
	q.mounted = true
	q.parent = ctx
	q.key = key
	q.hasKey = true
	q.startLocked()
}

// SetKey changes the dependency key. A new cycle starts only when the query is
// mounted and key is not equal to the current key. It reports whether a cycle
// was started.
func (q *Query[K, T]) SetKey(key K) bool {
	q.mu.Lock()
	if q.hasKey && q.key == key {
		q.mu.Unlock()
		return false
	}
	q.key = key
	q.hasKey = true
	if !q.mounted {
		q.mu.Unlock()
		return false
	}
	q.startLocked()
	return true
}

// Refetch starts a new cycle for the current key. It is never called by the
// query itself.
func (q *Query[K, T]) Refetch() bool {
	q.mu.Lock()
	if !q.mounted || !q.hasKey {
		q.mu.Unlock()
		return false
	}
	q.startLocked()
	return true
}

// Unmount deactivates the query. The in-flight cycle is cancelled and no state
// write or notification happens after Unmount returns.
func (q *Query[K, T]) Unmount() {
	q.mu.Lock()
	q.mounted = false
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	last := q.seq
	q.mu.Unlock()

	// Let notifications issued before deactivation finish.
	q.notes.waitFor(last)
	q.logger.Debug().Msg("Query unmounted.")
}

// State returns the current state.
func (q *Query[K, T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Key returns the current dependency key.
func (q *Query[K, T]) Key() (K, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.key, q.hasKey
}

// Mounted reports whether the query is active.
func (q *Query[K, T]) Mounted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mounted
}

// Subscribe registers fn for every state write. The returned function removes it.
func (q *Query[K, T]) Subscribe(fn func(State[T])) func() {
	q.mu.Lock()
	id := q.subs.add(fn)
	q.mu.Unlock()
	return func() {
		q.mu.Lock()
		q.subs.remove(id)
		q.mu.Unlock()
	}
}

// Await blocks until the query holds a settled state and returns it.
func (q *Query[K, T]) Await(ctx context.Context) (State[T], error) {
	return await(ctx, q.State, q.Subscribe, q.Mounted)
}

// Wait blocks until every started cycle has returned, including stale ones.
func (q *Query[K, T]) Wait() {
	q.cycles.Wait()
}

// startLocked begins a new cycle. It must be called with mu held and releases it.
func (q *Query[K, T]) startLocked() {
	q.gen++
	gen := q.gen
	if q.cancel != nil {
		q.cancel()
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if q.cfg.timeout > 0 {
		ctx, cancel = context.WithTimeout(q.parent, q.cfg.timeout)
	} else {
		ctx, cancel = context.WithCancel(q.parent)
	}
	q.cancel = cancel

	key := q.key
	cycleID := uuid.NewString()
	q.state.IsLoading = true
	q.state.Err = nil

	metrics.FetchCyclesStarted.WithLabelValues(q.cfg.name).Inc()
	q.logger.Debug().Str("cycle_id", cycleID).Str("key", fmt.Sprintf("%v", key)).Uint64("generation", gen).Msg("Fetch cycle started.")

	q.cycles.Add(1)
	go q.run(ctx, cancel, gen, key, cycleID)
	q.publishLocked()
}

func (q *Query[K, T]) run(ctx context.Context, cancel context.CancelFunc, gen uint64, key K, cycleID string) {
	defer q.cycles.Done()
	defer cancel()

	data, err := q.call(ctx, key)

	q.mu.Lock()
	if !q.mounted || gen != q.gen {
		q.mu.Unlock()
		metrics.FetchCyclesSettled.WithLabelValues(q.cfg.name, metrics.OutcomeStale).Inc()
		q.logger.Debug().Str("cycle_id", cycleID).Uint64("generation", gen).Msg("Discarded result of a stale fetch cycle.")
		return
	}

	q.state = settledWith(data, err)
	q.cancel = nil
	if q.state.Err != nil {
		metrics.FetchCyclesSettled.WithLabelValues(q.cfg.name, metrics.OutcomeError).Inc()
		q.logger.Debug().Err(q.state.Err).Str("cycle_id", cycleID).Msg("Fetch cycle failed.")
	} else {
		metrics.FetchCyclesSettled.WithLabelValues(q.cfg.name, metrics.OutcomeData).Inc()
		q.logger.Debug().Str("cycle_id", cycleID).Msg("Fetch cycle settled.")
	}
	q.publishLocked()
}

// call invokes the fetcher, turning a panic into an error.
func (q *Query[K, T]) call(ctx context.Context, key K) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &failure.ValueError{Value: r}
		}
	}()
	return q.fetch(ctx, key)
}

// publishLocked notifies subscribers of the current state. It must be called
// with mu held and releases it.
func (q *Query[K, T]) publishLocked() {
	q.seq++
	seq := q.seq
	state := q.state
	fns := q.subs.snapshot()
	q.mu.Unlock()

	q.notes.deliver(seq, func() {
		for _, fn := range fns {
			fn(state)
		}
	})
}

// await waits for the first settled state reported by a hook.
func await[T any](
	ctx context.Context,
	current func() State[T],
	subscribe func(func(State[T])) func(),
	mounted func() bool,
) (State[T], error) {
	updates := make(chan State[T], 1)
	unsubscribe := subscribe(func(s State[T]) {
		if !s.Settled() {
			return
		}
		select {
		case updates <- s:
		default:
		}
	})
	defer unsubscribe()

	if s := current(); s.Settled() {
		return s, nil
	}
	if !mounted() {
		return State[T]{}, ErrNotMounted
	}
	select {
	case s := <-updates:
		return s, nil
	case <-ctx.Done():
		return current(), ctx.Err()
	}
}
