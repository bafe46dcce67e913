// Package cache provides the entity cache shared by every view within a session.
package cache

import (
	"context"
	"io"
	"time"
)

// Entry is a cached entity together with the time it was fetched.
type Entry[K comparable, V any] struct {
	Key       K
	Value     V
	FetchedAt time.Time
}

// EntityCache stores previously fetched entities keyed by identity.
//
// Once Set returns, every Get for the same key observes the new value until the
// next Set or Invalidate. A later Set always supersedes an earlier one; there is
// no merging. Implementations must not expire entries on their own unless the
// caller configured expiry explicitly.
type EntityCache[K comparable, V any] interface {
	// Get returns the entry for key. The bool is false on a miss.
	Get(ctx context.Context, key K) (Entry[K, V], bool, error)
	// Set stores value for key, replacing any previous entry.
	Set(ctx context.Context, key K, value V) error
	// Invalidate removes the entry for key. Removing a missing key is not an error.
	Invalidate(ctx context.Context, key K) error
	// Clear removes every entry, used at session end.
	Clear(ctx context.Context) error
	io.Closer
}

// Option configures an entity cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
