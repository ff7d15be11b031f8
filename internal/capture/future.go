package capture

import (
	"context"
	"errors"
	"sync"
)

// ErrDiscarded is returned by Wait when the owner of a request went away
// before the result arrived.
var ErrDiscarded = errors.New("request discarded")

type State int

const (
	StatePending State = iota
	StateSucceeded
	StateFailed
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Future is an asynchronous result with three terminal states. The first
// transition out of pending wins; later ones are ignored.
type Future[T any] struct {
	done chan struct{}

	mu    sync.Mutex
	state State
	value T
	err   error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) settle(state State, v T, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StatePending {
		return false
	}
	f.state = state
	f.value = v
	f.err = err
	close(f.done)
	return true
}

func (f *Future[T]) Resolve(v T) bool {
	return f.settle(StateSucceeded, v, nil)
}

func (f *Future[T]) Reject(err error) bool {
	var zero T
	return f.settle(StateFailed, zero, err)
}

func (f *Future[T]) Discard() bool {
	var zero T
	return f.settle(StateDiscarded, zero, ErrDiscarded)
}

func (f *Future[T]) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Err returns the failure of a settled future, or nil.
func (f *Future[T]) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Done is closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
