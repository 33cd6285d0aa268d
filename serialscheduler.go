// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package valuestream

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/deque"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"
)

// slowDispatchThreshold is how long a single delivery may run before we
// warn about it. A slow subscriber callback stalls every delivery queued
// behind it.
const slowDispatchThreshold = 10 * time.Millisecond

// SerialScheduler dispatches deliveries one at a time on its own
// goroutine, preserving the order in which they were scheduled. A
// delivery never runs synchronously on the scheduling goroutine.
type SerialScheduler struct {
	tomb tomb.Tomb

	clock  clock.Clock
	logger Logger

	mu         sync.Mutex
	queue      *deque.Deque
	dispatched int

	wake chan struct{}
}

var _ worker.Worker = (*SerialScheduler)(nil)

// NewSerialScheduler returns a scheduler backed by a single dispatch
// goroutine. A nil clock defaults to the wall clock and a nil logger to
// the package logger. The scheduler is a worker and must be killed when
// no longer needed; deliveries still queued at that point are discarded.
func NewSerialScheduler(clk clock.Clock, logger Logger) *SerialScheduler {
	if clk == nil {
		clk = clock.WallClock
	}
	if logger == nil {
		logger = defaultLogger()
	}
	s := &SerialScheduler{
		clock:  clk,
		logger: logger,
		queue:  deque.New(),
		wake:   make(chan struct{}, 1),
	}
	s.tomb.Go(s.loop)
	return s
}

// Schedule is part of the Scheduler interface. Scheduling against a
// dead or dying scheduler is a no-op.
func (s *SerialScheduler) Schedule(deliver func()) {
	select {
	case <-s.tomb.Dying():
		return
	default:
	}

	s.mu.Lock()
	s.queue.PushBack(deliver)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Kill is part of the worker.Worker interface.
func (s *SerialScheduler) Kill() {
	s.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *SerialScheduler) Wait() error {
	return s.tomb.Wait()
}

// Report is part of the worker.Reporter interface.
func (s *SerialScheduler) Report() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"queued":     s.queue.Len(),
		"dispatched": s.dispatched,
	}
}

func (s *SerialScheduler) loop() error {
	for {
		select {
		case <-s.tomb.Dying():
			return tomb.ErrDying
		case <-s.wake:
			if done := s.drain(); done {
				return tomb.ErrDying
			}
		}
	}
}

// drain dispatches queued deliveries until the queue is empty or the
// scheduler is dying. It reports whether the scheduler is dying.
func (s *SerialScheduler) drain() bool {
	for {
		select {
		case <-s.tomb.Dying():
			return true
		default:
		}

		s.mu.Lock()
		head, ok := s.queue.PopFront()
		s.mu.Unlock()
		if !ok {
			return false
		}

		deliver := head.(func())
		began := s.clock.Now()
		deliver()
		if elapsed := s.clock.Now().Sub(began); elapsed > slowDispatchThreshold {
			s.logger.Warningf("slow delivery took %v", elapsed)
		}

		s.mu.Lock()
		s.dispatched++
		s.mu.Unlock()
	}
}
