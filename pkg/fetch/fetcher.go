// Package fetch holds the remote call boundary used by the query hooks, the
// in-flight request de-duplication and the cache-then-source loader.
package fetch

import "context"

// Fetcher is a generic function type for fetching data by a key. It is the
// boundary to a remote call adapter: it resolves with a value or fails with an
// error-like value, and the core never knows its transport.
type Fetcher[K any, V any] func(ctx context.Context, key K) (V, error)
