// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package valuestream

import (
	"sync"
)

// Subscription is the cancellation token returned by Subscribe. It
// represents the right to remove exactly one subscriber from a stream.
type Subscription interface {
	// Unsubscribe removes the subscriber from the stream. It is safe to
	// call more than once; calls after the first do nothing. Deliveries
	// already scheduled when Unsubscribe returns may still be invoked by
	// the scheduler, but the subscriber's callbacks are no longer run.
	Unsubscribe()

	// Done is closed once the subscription is finished: explicitly
	// unsubscribed, completed by a terminal error, or orphaned by the
	// stream being killed.
	Done() <-chan struct{}
}

type subscription[T any] struct {
	id     uint64
	remove func(id uint64)

	onValue func(T)
	onError func(error)

	mu       sync.Mutex
	finished bool
	lastVer  uint64
	done     chan struct{}
}

func newSubscription[T any](
	id uint64, remove func(uint64), onValue func(T), onError func(error),
) *subscription[T] {
	return &subscription[T]{
		id:      id,
		remove:  remove,
		onValue: onValue,
		onError: onError,
		done:    make(chan struct{}),
	}
}

// Unsubscribe is part of the Subscription interface.
func (s *subscription[T]) Unsubscribe() {
	s.remove(s.id)
	s.finish()
}

// Done is part of the Subscription interface.
func (s *subscription[T]) Done() <-chan struct{} {
	return s.done
}

// deliverValue runs the value callback outside the subscription's lock,
// so a reentrant Subscribe or Unsubscribe from inside it never
// deadlocks. Deliveries carrying a version at or below the last one
// observed are dropped: the subscriber never sees a value older than
// one it has already received. Deliveries after the subscription has
// finished are dropped too.
func (s *subscription[T]) deliverValue(ver uint64, value T) {
	s.mu.Lock()
	if s.finished || ver <= s.lastVer {
		s.mu.Unlock()
		return
	}
	s.lastVer = ver
	s.mu.Unlock()

	s.onValue(value)
}

// deliverError runs the error callback and finishes the subscription.
// An error is always the last delivery a subscriber observes.
func (s *subscription[T]) deliverError(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	close(s.done)
	s.mu.Unlock()

	s.onError(err)
}

// finish closes the subscription without delivering anything further.
func (s *subscription[T]) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	close(s.done)
}
