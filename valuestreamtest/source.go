// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package valuestreamtest

import (
	"sync"

	"github.com/juju/valuestream"
)

// Source is a scripted valuestream.Source implementation. It counts
// starts and stops, hands each run's emission controls back to the
// test, and optionally invokes a hook synchronously from Start, which
// is how a source that computes its initial value eagerly behaves.
type Source[T any] struct {
	mu      sync.Mutex
	onStart func(*Run[T])
	starts  int
	stops   int
	current *Run[T]
}

// NewSource returns a scripted source. The onStart hook, if not nil, is
// invoked synchronously from every Start call with the new run; tests
// typically use it to send the initial value.
func NewSource[T any](onStart func(*Run[T])) *Source[T] {
	return &Source[T]{onStart: onStart}
}

// Start is part of the valuestream.Source interface.
func (s *Source[T]) Start(onValue func(T), onError func(error)) valuestream.Handle {
	s.mu.Lock()
	s.starts++
	run := &Run[T]{
		source:  s,
		ordinal: s.starts,
		onValue: onValue,
		onError: onError,
	}
	s.current = run
	hook := s.onStart
	s.mu.Unlock()

	if hook != nil {
		hook(run)
	}
	return run
}

// Starts returns how many observations have been started.
func (s *Source[T]) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Stops returns how many observations have been stopped.
func (s *Source[T]) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// Current returns the most recently started run.
func (s *Source[T]) Current() *Run[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Run is a single observation produced by a Source.
type Run[T any] struct {
	source  *Source[T]
	ordinal int
	onValue func(T)
	onError func(error)

	mu      sync.Mutex
	stopped bool
	errored bool
}

// Ordinal returns the run's 1-based start ordinal.
func (r *Run[T]) Ordinal() int {
	return r.ordinal
}

// SendValue delivers a change notification. It deliberately does not
// check whether the run has been stopped, so tests can exercise how a
// stream treats notifications racing with a stop.
func (r *Run[T]) SendValue(value T) {
	r.mu.Lock()
	onValue := r.onValue
	r.mu.Unlock()

	onValue(value)
}

// SendError delivers a failure and terminates the run, the way a
// compliant source does. Further SendError calls do nothing.
func (r *Run[T]) SendError(err error) {
	r.mu.Lock()
	if r.errored {
		r.mu.Unlock()
		return
	}
	r.errored = true
	onError := r.onError
	r.mu.Unlock()

	onError(err)
}

// Stopped reports whether the run has been stopped.
func (r *Run[T]) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Stop is part of the valuestream.Handle interface.
func (r *Run[T]) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.stopped = true

	r.source.mu.Lock()
	r.source.stops++
	r.source.mu.Unlock()
}
