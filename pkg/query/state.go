// Package query implements the hooks every view uses to talk to the remote API:
// a Query that follows a dependency key, a Mutation that runs on demand and a
// Retrying presenter that forces a refetch without remounting.
//
// All hooks share one visibility rule: only the most recently initiated call's
// settlement is ever written to the exposed State, and nothing is written once
// the hook has been unmounted.
package query

import (
	"errors"
	"sync"

	"github.com/illmade-knight/go-recordview/pkg/failure"
)

// ErrNotMounted is returned by Await when the hook is not active.
var ErrNotMounted = errors.New("query is not mounted")

// State is the tri-state projection of a remote call.
//
// IsLoading is true from issue until settle. Once settled, HasData and Err are
// mutually exclusive. Before the first settle both are absent.
type State[T any] struct {
	Data      T
	HasData   bool
	IsLoading bool
	Err       *failure.Failure
}

// Settled reports whether the state holds the outcome of a finished call.
func (s State[T]) Settled() bool {
	return !s.IsLoading && (s.HasData || s.Err != nil)
}

// settledWith builds the state for a finished call. An error that normalizes to
// nil, such as a typed nil *failure.Failure, counts as success.
func settledWith[T any](data T, err error) State[T] {
	if f := failure.Normalize(err); f != nil {
		return State[T]{Err: f}
	}
	return State[T]{Data: data, HasData: true}
}

// subscribers keeps listeners in registration order.
type subscribers[T any] struct {
	next int
	fns  map[int]func(State[T])
	ids  []int
}

func (s *subscribers[T]) add(fn func(State[T])) int {
	if s.fns == nil {
		s.fns = make(map[int]func(State[T]))
	}
	id := s.next
	s.next++
	s.fns[id] = fn
	s.ids = append(s.ids, id)
	return id
}

func (s *subscribers[T]) remove(id int) {
	delete(s.fns, id)
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return
		}
	}
}

func (s *subscribers[T]) snapshot() []func(State[T]) {
	out := make([]func(State[T]), 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.fns[id])
	}
	return out
}

// sequencer delivers numbered notifications strictly in order without holding
// the hook's lock, so listeners may read the hook while being notified.
type sequencer struct {
	mu        sync.Mutex
	cond      *sync.Cond
	delivered uint64
}

func newSequencer() *sequencer {
	s := &sequencer{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// deliver runs fn once every notification numbered below seq has been delivered.
func (s *sequencer) deliver(seq uint64, fn func()) {
	s.mu.Lock()
	for s.delivered != seq-1 {
		s.cond.Wait()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.delivered = seq
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
	fn()
}

// waitFor blocks until notification seq has been delivered.
func (s *sequencer) waitFor(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.delivered < seq {
		s.cond.Wait()
	}
}
