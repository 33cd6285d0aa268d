// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package valuestream

import (
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/transform"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"gopkg.in/tomb.v2"
)

const (
	// ErrStreamDying is returned by Subscribe once the stream worker has
	// been killed and can no longer accept subscribers.
	ErrStreamDying = errors.ConstError("value stream worker is dying")
)

// Config holds the dependencies of a shared value stream.
type Config[T any] struct {
	// Source produces the underlying observation. At most one
	// observation produced by it is alive at any time across the whole
	// life of the stream.
	Source Source[T]

	// Extent selects the lifetime policy for the underlying observation.
	Extent Extent

	// Scheduler decides where deliveries to subscribers run.
	Scheduler Scheduler

	// Clock measures observation lifetimes. A nil clock defaults to the
	// wall clock.
	Clock clock.Clock

	// Logger is used for trace and diagnostic output. A nil logger
	// defaults to the package logger.
	Logger Logger
}

// Validate ensures that the config values are valid.
func (c Config[T]) Validate() error {
	if c.Source == nil {
		return errors.NotValidf("nil Source")
	}
	if c.Scheduler == nil {
		return errors.NotValidf("nil Scheduler")
	}
	if err := c.Extent.validate(); err != nil {
		return errors.Trace(err)
	}
	return nil
}

type status int

const (
	statusIdle status = iota
	statusActive
	statusFailed
)

// String is part of the fmt.Stringer interface.
func (s status) String() string {
	switch s {
	case statusIdle:
		return "idle"
	case statusActive:
		return "active"
	case statusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stream multiplexes one underlying observation to any number of
// subscribers. The observation is started lazily on the first subscribe
// and stopped according to the stream's extent; its last value is
// cached and replayed to late joiners.
//
// A Stream is a worker. Killing it stops any active observation exactly
// once and completes every subscription; no deliveries occur afterwards.
type Stream[T any] struct {
	tomb tomb.Tomb

	source    Source[T]
	extent    Extent
	scheduler Scheduler
	clock     clock.Clock
	logger    Logger

	// mu guards everything below. It is held only for state
	// transitions, never across a subscriber callback or a source
	// start/stop call.
	mu     sync.Mutex
	status status

	// gen identifies the current observation. Callbacks from a source
	// carry the generation they were started with, so notifications
	// from an observation that has since been stopped are dropped.
	gen uint64

	// errored records the generation that terminated itself with an
	// error, so a start still in flight knows not to stop its handle.
	errored uint64

	// handle is nil while a start is in flight; the starter stores it
	// once the source returns, or stops it if the stream moved on.
	handle Handle

	cache    T
	hasCache bool
	ver      uint64
	failure  error
	began    time.Time
	starts   int
	killed   bool

	nextID uint64
	subs   map[uint64]*subscription[T]
}

var _ worker.Worker = (*Stream[struct{}])(nil)

// New returns a stream that shares observations of the given source
// among its subscribers, under the given extent and scheduler.
func New[T any](cfg Config[T]) (*Stream[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}

	s := &Stream[T]{
		source:    cfg.Source,
		extent:    cfg.Extent,
		scheduler: cfg.Scheduler,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		subs:      make(map[uint64]*subscription[T]),
	}
	s.tomb.Go(s.loop)
	return s, nil
}

// Subscribe registers the callback pair as a new subscriber and returns
// its cancellation token. If no observation is running one is started;
// if one is running and has already produced a value, that value is
// replayed to the new subscriber before any later one. On a stream that
// has failed permanently (WholeLifetime extent only), the subscriber is
// not registered: it receives the cached failure and an inert token.
//
// Subscribe may be called from within a subscriber callback.
func (s *Stream[T]) Subscribe(onValue func(T), onError func(error)) (Subscription, error) {
	if onValue == nil {
		return nil, errors.NotValidf("nil onValue")
	}
	if onError == nil {
		return nil, errors.NotValidf("nil onError")
	}

	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return nil, ErrStreamDying
	}

	if s.status == statusFailed {
		failure := s.failure
		s.mu.Unlock()

		sub := newSubscription[T](0, func(uint64) {}, onValue, onError)
		s.scheduler.Schedule(func() {
			sub.deliverError(failure)
		})
		return sub, nil
	}

	id := s.nextID
	s.nextID++
	sub := newSubscription[T](id, s.unsubscribe, onValue, onError)
	s.subs[id] = sub

	var (
		start  bool
		gen    uint64
		replay func()
	)
	switch {
	case s.status == statusIdle:
		gen = s.beginObservationLocked()
		start = true
	case s.hasCache:
		// Replay the freshest cached value to the new subscriber only.
		ver, value := s.ver, s.cache
		replay = func() {
			sub.deliverValue(ver, value)
		}
	}
	s.mu.Unlock()

	if replay != nil {
		s.scheduler.Schedule(replay)
	}
	if start {
		s.startObservation(gen)
	}
	return sub, nil
}

// Kill is part of the worker.Worker interface.
func (s *Stream[T]) Kill() {
	s.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *Stream[T]) Wait() error {
	return s.tomb.Wait()
}

// Report is part of the worker.Reporter interface.
func (s *Stream[T]) Report() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"state":         s.status.String(),
		"extent":        s.extent.String(),
		"subscriptions": len(s.subs),
		"cached":        s.hasCache,
		"starts":        s.starts,
	}
}

func (s *Stream[T]) loop() error {
	<-s.tomb.Dying()

	s.mu.Lock()
	s.killed = true
	var (
		stop Handle
		gen  uint64
	)
	if s.status == statusActive {
		stop, gen = s.handle, s.gen
		s.handle = nil
		s.status = statusIdle
		s.hasCache = false
	}
	snapshot := s.snapshotLocked()
	s.subs = make(map[uint64]*subscription[T])
	s.mu.Unlock()

	if stop != nil {
		s.logger.Debugf("stopping observation %d", gen)
		stop.Stop()
	}
	// Deliveries already scheduled become no-ops once the
	// subscriptions are finished.
	for _, sub := range snapshot {
		sub.finish()
	}
	return tomb.ErrDying
}

// beginObservationLocked transitions the stream to active on behalf of
// a new observation and returns its generation. The source itself is
// started outside the lock, since it may deliver its initial result
// synchronously on the starting goroutine.
func (s *Stream[T]) beginObservationLocked() uint64 {
	s.gen++
	s.status = statusActive
	s.handle = nil
	s.hasCache = false
	s.failure = nil
	s.began = s.clock.Now()
	s.starts++
	return s.gen
}

func (s *Stream[T]) startObservation(gen uint64) {
	s.logger.Debugf("starting observation %d", gen)

	handle := s.source.Start(func(value T) {
		s.sourceValue(gen, value)
	}, func(err error) {
		s.sourceError(gen, err)
	})

	s.mu.Lock()
	if s.status == statusActive && s.gen == gen {
		s.handle = handle
		s.mu.Unlock()
		return
	}
	errored := s.errored == gen
	s.mu.Unlock()

	// The stream moved on while the source was starting. A source that
	// failed has already terminated itself; anything else has to be
	// stopped here, since nothing else holds its handle.
	if !errored {
		handle.Stop()
	}
}

// sourceValue is invoked by the observation, from any goroutine, each
// time it produces a value. The value is cached for replay and fanned
// out to a snapshot of the current subscribers, outside the lock.
func (s *Stream[T]) sourceValue(gen uint64, value T) {
	s.mu.Lock()
	if s.status != statusActive || s.gen != gen {
		// The observation was stopped; drop the notification.
		s.mu.Unlock()
		return
	}
	s.cache = value
	s.hasCache = true
	s.ver++
	ver := s.ver
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if s.logger.IsTraceEnabled() {
		s.logger.Tracef("dispatching value %d to %d subscriber(s)", ver, len(snapshot))
	}
	for _, sub := range snapshot {
		sub := sub
		s.scheduler.Schedule(func() {
			sub.deliverValue(ver, value)
		})
	}
}

// sourceError is invoked by the observation when it fails. The source
// has terminated itself, so its handle is released without an explicit
// stop. An error is terminal per subscriber: everyone in the snapshot
// receives it as their last delivery and is removed from the registry.
func (s *Stream[T]) sourceError(gen uint64, err error) {
	s.mu.Lock()
	if s.status != statusActive || s.gen != gen {
		s.mu.Unlock()
		return
	}

	snapshot := s.snapshotLocked()
	s.subs = make(map[uint64]*subscription[T])

	s.handle = nil
	s.errored = gen
	s.hasCache = false
	var zero T
	s.cache = zero
	if s.extent == WholeLifetime {
		// The stream represents one logical observation for its whole
		// life: once broken it stays broken.
		s.status = statusFailed
		s.failure = err
	} else {
		// Reset completely, so a later subscriber gets a clean retry.
		s.status = statusIdle
	}
	elapsed := s.clock.Now().Sub(s.began)
	s.mu.Unlock()

	s.logger.Infof("observation %d failed after %v: %v", gen, elapsed, err)
	for _, sub := range snapshot {
		sub := sub
		s.scheduler.Schedule(func() {
			sub.deliverError(err)
		})
	}
}

// unsubscribe removes the identified subscriber. Under the
// WhileObserved extent, removing the last subscriber stops the
// observation and discards the cache.
func (s *Stream[T]) unsubscribe(id uint64) {
	s.mu.Lock()
	if _, ok := s.subs[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, id)

	var (
		stop    Handle
		gen     uint64
		elapsed time.Duration
	)
	if s.extent == WhileObserved && len(s.subs) == 0 && s.status == statusActive {
		// The observation has no life of its own when unobserved. If a
		// start is still in flight the handle is nil here, and the
		// starter stops it on arrival.
		stop, gen = s.handle, s.gen
		s.handle = nil
		s.status = statusIdle
		s.hasCache = false
		var zero T
		s.cache = zero
		elapsed = s.clock.Now().Sub(s.began)
	}
	s.mu.Unlock()

	if stop != nil {
		stop.Stop()
		s.logger.Debugf("observation %d stopped after %v", gen, elapsed)
	}
}

func (s *Stream[T]) snapshotLocked() []*subscription[T] {
	return transform.MapToSlice(s.subs, func(_ uint64, sub *subscription[T]) []*subscription[T] {
		return []*subscription[T]{sub}
	})
}
