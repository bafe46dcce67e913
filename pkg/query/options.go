package query

import (
	"time"

	"github.com/illmade-knight/go-recordview/pkg/failure"
	"github.com/rs/zerolog"
)

// Option configures a Query or a Retrying presenter.
type Option func(*config)

type config struct {
	name    string
	logger  zerolog.Logger
	timeout time.Duration
}

func defaultConfig() config {
	return config{name: "query", logger: zerolog.Nop()}
}

// WithName labels the hook in logs and metrics.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithLogger sets the logger used by the hook.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTimeout bounds every fetch cycle. Without it a hung remote call leaves
// IsLoading true until the key changes or the hook is unmounted.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// MutationOption configures a Mutation.
type MutationOption[R any] func(*mutationConfig[R])

type mutationConfig[R any] struct {
	config
	onSuccess func(R)
	onError   func(*failure.Failure)
}

// WithOnSuccess registers a callback run once per successful call, after the
// hook's state has settled.
func WithOnSuccess[R any](fn func(R)) MutationOption[R] {
	return func(c *mutationConfig[R]) {
		c.onSuccess = fn
	}
}

// WithOnError registers a callback run once per failed call, after the hook's
// state has settled.
func WithOnError[R any](fn func(*failure.Failure)) MutationOption[R] {
	return func(c *mutationConfig[R]) {
		c.onError = fn
	}
}

// WithMutationName labels the mutation in logs and metrics.
func WithMutationName[R any](name string) MutationOption[R] {
	return func(c *mutationConfig[R]) {
		c.name = name
	}
}

// WithMutationLogger sets the logger used by the mutation.
func WithMutationLogger[R any](logger zerolog.Logger) MutationOption[R] {
	return func(c *mutationConfig[R]) {
		c.logger = logger
	}
}
