// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package valuestreamtest

import (
	"sync"
	"time"

	gc "gopkg.in/check.v1"
)

const (
	// ShortWait is long enough that an event we expect has happened,
	// but short enough not to drag the suite out when one we don't
	// expect doesn't.
	ShortWait = 50 * time.Millisecond

	// LongWait is an upper bound on how long we wait for an event that
	// must happen.
	LongWait = 10 * time.Second
)

// Recorder collects the deliveries made to a single subscriber, in
// order. Its OnValue and OnError methods are the callback pair to pass
// to Subscribe.
type Recorder[T any] struct {
	mu     sync.Mutex
	values []T
	errs   []error
}

// NewRecorder returns an empty recorder.
func NewRecorder[T any]() *Recorder[T] {
	return &Recorder[T]{}
}

// OnValue records a value delivery.
func (r *Recorder[T]) OnValue(value T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, value)
}

// OnError records an error delivery.
func (r *Recorder[T]) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Values returns a copy of the values delivered so far.
func (r *Recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...)
}

// Errs returns a copy of the errors delivered so far.
func (r *Recorder[T]) Errs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// WaitValues waits until at least n values have been delivered and
// returns them, failing the test if that takes longer than LongWait.
func (r *Recorder[T]) WaitValues(c *gc.C, n int) []T {
	timeout := time.After(LongWait)
	for {
		if values := r.Values(); len(values) >= n {
			return values
		}
		select {
		case <-timeout:
			c.Fatalf("timed out waiting for %d value(s), got %d", n, len(r.Values()))
		case <-time.After(time.Millisecond):
		}
	}
}

// WaitErrs waits until at least n errors have been delivered and
// returns them, failing the test if that takes longer than LongWait.
func (r *Recorder[T]) WaitErrs(c *gc.C, n int) []error {
	timeout := time.After(LongWait)
	for {
		if errs := r.Errs(); len(errs) >= n {
			return errs
		}
		select {
		case <-timeout:
			c.Fatalf("timed out waiting for %d error(s), got %d", n, len(r.Errs()))
		case <-time.After(time.Millisecond):
		}
	}
}
