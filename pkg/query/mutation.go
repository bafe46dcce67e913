package query

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-recordview/pkg/failure"
	"github.com/illmade-knight/go-recordview/pkg/metrics"
	"github.com/rs/zerolog"
)

// MutateFunc performs one write against the remote API.
type MutateFunc[V any, R any] func(ctx context.Context, vars V) (R, error)

// Mutation runs a write remote call on demand. Calls may overlap; the exposed
// State always reflects the most recently initiated call. Failures are never
// returned as Go errors: they are written to State and handed to the OnError
// callback.
type Mutation[V any, R any] struct {
	fn     MutateFunc[V, R]
	cfg    mutationConfig[R]
	logger zerolog.Logger

	mu        sync.Mutex
	state     State[R]
	gen       uint64
	unmounted bool
	subs      subscribers[R]
	seq       uint64
	notes     *sequencer
}

// NewMutation creates a Mutation around fn. The mutation is live until Unmount.
func NewMutation[V any, R any](fn MutateFunc[V, R], opts ...MutationOption[R]) *Mutation[V, R] {
	cfg := mutationConfig[R]{config: defaultConfig()}
	cfg.name = "mutation"
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Mutation[V, R]{
		fn:     fn,
		cfg:    cfg,
		notes:  newSequencer(),
		logger: cfg.logger.With().Str("component", "Mutation").Str("mutation", cfg.name).Logger(),
	}
}

// Mutate runs one call with vars and blocks until it settles. It returns the
// settled state of this call, which may differ from State() when a newer call
// was started meanwhile.
//
// OnSuccess or OnError runs exactly once for the call, after the hook's state
// has settled, unless the hook was unmounted before the call finished.
func (m *Mutation[V, R]) Mutate(ctx context.Context, vars V) State[R] {
	callID := uuid.NewString()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	live := !m.unmounted
	if live {
		m.state = State[R]{IsLoading: true}
		m.publishLocked()
	} else {
		m.mu.Unlock()
	}
	m.logger.Debug().Str("call_id", callID).Uint64("generation", gen).Msg("Mutation started.")

	result := m.call(ctx, vars)
	m.settle(gen, callID, result)
	return result
}

// State returns the state of the most recently initiated call.
func (m *Mutation[V, R]) State() State[R] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for every state write. The returned function removes it.
func (m *Mutation[V, R]) Subscribe(fn func(State[R])) func() {
	m.mu.Lock()
	id := m.subs.add(fn)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.subs.remove(id)
		m.mu.Unlock()
	}
}

// Unmount deactivates the mutation. Calls still in flight finish, but their
// results are neither written nor reported to callbacks.
func (m *Mutation[V, R]) Unmount() {
	m.mu.Lock()
	m.unmounted = true
	last := m.seq
	m.mu.Unlock()
	m.notes.waitFor(last)
}

// call invokes fn and converts every outcome, panics included, into a settled state.
func (m *Mutation[V, R]) call(ctx context.Context, vars V) (result State[R]) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			result = settledWith(zero, &failure.ValueError{Value: r})
		}
	}()
	data, err := m.fn(ctx, vars)
	return settledWith(data, err)
}

func (m *Mutation[V, R]) settle(gen uint64, callID string, result State[R]) {
	outcome := metrics.OutcomeData
	if result.Err != nil {
		outcome = metrics.OutcomeError
	}

	m.mu.Lock()
	if m.unmounted {
		m.mu.Unlock()
		metrics.MutationsTotal.WithLabelValues(m.cfg.name, metrics.OutcomeStale).Inc()
		m.logger.Debug().Str("call_id", callID).Msg("Dropped result of a mutation that outlived its hook.")
		return
	}
	metrics.MutationsTotal.WithLabelValues(m.cfg.name, outcome).Inc()
	if gen == m.gen {
		m.state = result
		m.publishLocked()
	} else {
		m.mu.Unlock()
		m.logger.Debug().Str("call_id", callID).Uint64("generation", gen).Msg("Mutation superseded, state left to the newer call.")
	}

	if result.Err != nil {
		m.logger.Warn().Err(result.Err).Str("call_id", callID).Msg("Mutation failed.")
		if m.cfg.onError != nil {
			m.cfg.onError(result.Err)
		}
		return
	}
	m.logger.Debug().Str("call_id", callID).Msg("Mutation succeeded.")
	if m.cfg.onSuccess != nil {
		m.cfg.onSuccess(result.Data)
	}
}

// publishLocked notifies subscribers of the current state. It must be called
// with mu held and releases it.
func (m *Mutation[V, R]) publishLocked() {
	m.seq++
	seq := m.seq
	state := m.state
	fns := m.subs.snapshot()
	m.mu.Unlock()

	m.notes.deliver(seq, func() {
		for _, fn := range fns {
			fn(state)
		}
	})
}
