package fetch

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/illmade-knight/go-recordview/pkg/failure"
	"github.com/illmade-knight/go-recordview/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

type attemptKey struct{}

// WithAttempt marks ctx with a retry attempt number. Dedupe treats calls made
// under different attempts as different descriptors, so a retried call never
// joins the call it is retrying.
func WithAttempt(ctx context.Context, attempt uint64) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// Attempt returns the retry attempt carried by ctx, or zero.
func Attempt(ctx context.Context) uint64 {
	n, _ := ctx.Value(attemptKey{}).(uint64)
	return n
}

// flight tracks the callers waiting on one shared remote call. Each flight has
// its own singleflight key, so a forgotten flight can never be joined again.
type flight struct {
	id      string
	base    string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// Deduplicator collapses concurrent calls for equal descriptors into a single
// in-flight remote call. The shared call runs with its own context, cancelled
// only once every caller waiting on it has gone away.
type Deduplicator struct {
	group  singleflight.Group
	logger zerolog.Logger

	mu      sync.Mutex
	next    uint64
	flights map[string]*flight
}

// NewDeduplicator creates an empty Deduplicator.
func NewDeduplicator(logger zerolog.Logger) *Deduplicator {
	return &Deduplicator{
		logger:  logger.With().Str("component", "Deduplicator").Logger(),
		flights: make(map[string]*flight),
	}
}

func descriptor(scope string, key any) string {
	return fmt.Sprintf("%s:%v", scope, key)
}

// Dedupe wraps fetcher so that concurrent calls with equal keys share one call.
// scope separates fetchers whose keys could otherwise collide.
func Dedupe[K comparable, V any](d *Deduplicator, scope string, fetcher Fetcher[K, V]) Fetcher[K, V] {
	return func(ctx context.Context, key K) (V, error) {
		var zero V
		base := descriptor(scope, key)
		stringKey := base
		if attempt := Attempt(ctx); attempt > 0 {
			stringKey = base + "#" + strconv.FormatUint(attempt, 10)
		}

		f := d.join(ctx, base, stringKey)
		defer d.leave(stringKey, f)

		ch := d.group.DoChan(f.id, func() (v interface{}, err error) {
			// DoChan re-panics on a fresh goroutine, so panics are turned into errors here.
			defer func() {
				if r := recover(); r != nil {
					err = &failure.ValueError{Value: r}
				}
			}()
			return fetcher(f.ctx, key)
		})

		select {
		case res := <-ch:
			if res.Shared {
				metrics.SharedCalls.Inc()
				d.logger.Debug().Str("key", stringKey).Msg("Served by an in-flight request.")
			}
			if res.Err != nil {
				return zero, res.Err
			}
			return res.Val.(V), nil
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (d *Deduplicator) join(ctx context.Context, base, key string) *flight {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.flights[key]
	if !ok {
		d.next++
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{id: key + "@" + strconv.FormatUint(d.next, 10), base: base, ctx: fctx, cancel: cancel}
		d.flights[key] = f
	}
	f.waiters++
	return f
}

func (d *Deduplicator) leave(key string, f *flight) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	if d.flights[key] == f {
		delete(d.flights, key)
	}
	f.cancel()
}

// Forget detaches every in-flight call for key in scope, whatever its retry
// attempt. Callers already waiting still receive that call's result; later
// callers start a new call.
func (d *Deduplicator) Forget(scope string, key any) {
	base := descriptor(scope, key)
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, f := range d.flights {
		if f.base == base {
			delete(d.flights, k)
			d.logger.Debug().Str("key", k).Int("waiters", f.waiters).Msg("In-flight request detached.")
		}
	}
}

// InFlight returns the number of descriptors with a call in progress.
func (d *Deduplicator) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.flights)
}
