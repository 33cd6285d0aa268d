// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package valuestream_test

import (
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/juju/valuestream"
	"github.com/juju/valuestream/valuestreamtest"
)

type extentSuite struct {
	baseSuite
}

var _ = gc.Suite(&extentSuite{})

func (s *extentSuite) TestExtentString(c *gc.C) {
	c.Check(valuestream.WhileObserved.String(), gc.Equals, "while-observed")
	c.Check(valuestream.WholeLifetime.String(), gc.Equals, "whole-lifetime")
	c.Check(valuestream.Extent(42).String(), gc.Equals, "unknown")
}

func (s *extentSuite) TestWholeLifetimeSurvivesLastUnsubscribe(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectAnyLogs()
	s.newEagerSource(0)

	stream := s.newStream(c, valuestream.WholeLifetime, valuestream.ImmediateScheduler{})
	defer workertest.DirtyKill(c, stream)

	rec := valuestreamtest.NewRecorder[int]()
	sub, err := stream.Subscribe(rec.OnValue, rec.OnError)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Values(), jc.DeepEquals, []int{0})

	// Cancelling every subscriber does not stop the observation.
	sub.Unsubscribe()
	c.Check(s.source.Stops(), gc.Equals, 0)

	// A new subscriber gets the cached value replayed, with no new
	// source activity.
	rec2 := valuestreamtest.NewRecorder[int]()
	sub2, err := stream.Subscribe(rec2.OnValue, rec2.OnError)
	c.Assert(err, jc.ErrorIsNil)
	defer sub2.Unsubscribe()

	c.Check(rec2.Values(), jc.DeepEquals, []int{0})
	c.Check(s.source.Starts(), gc.Equals, 1)

	// Only killing the stream stops it, exactly once.
	workertest.CleanKill(c, stream)
	c.Check(s.source.Stops(), gc.Equals, 1)
}

func (s *extentSuite) TestWhileObservedStopsWithLastSubscriber(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectAnyLogs()
	s.newEagerSource(0)

	stream := s.newStream(c, valuestream.WhileObserved, valuestream.ImmediateScheduler{})
	defer workertest.CleanKill(c, stream)

	rec := valuestreamtest.NewRecorder[int]()
	sub, err := stream.Subscribe(rec.OnValue, rec.OnError)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Values(), jc.DeepEquals, []int{0})
	c.Check(s.source.Starts(), gc.Equals, 1)

	sub.Unsubscribe()
	c.Check(s.source.Stops(), gc.Equals, 1)

	// The next subscriber triggers a brand-new observation with a
	// fresh initial value, not a replayed one.
	rec2 := valuestreamtest.NewRecorder[int]()
	sub2, err := stream.Subscribe(rec2.OnValue, rec2.OnError)
	c.Assert(err, jc.ErrorIsNil)
	defer sub2.Unsubscribe()

	c.Check(rec2.Values(), jc.DeepEquals, []int{0})
	c.Check(s.source.Starts(), gc.Equals, 2)
}

func (s *extentSuite) TestWhileObservedKeepsRunningWhileObserved(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectAnyLogs()
	s.newEagerSource(0)

	stream := s.newStream(c, valuestream.WhileObserved, valuestream.ImmediateScheduler{})
	defer workertest.CleanKill(c, stream)

	recA := valuestreamtest.NewRecorder[int]()
	subA, err := stream.Subscribe(recA.OnValue, recA.OnError)
	c.Assert(err, jc.ErrorIsNil)

	recB := valuestreamtest.NewRecorder[int]()
	subB, err := stream.Subscribe(recB.OnValue, recB.OnError)
	c.Assert(err, jc.ErrorIsNil)
	defer subB.Unsubscribe()

	// One of two subscribers leaving must not stop the observation.
	subA.Unsubscribe()
	c.Check(s.source.Stops(), gc.Equals, 0)

	s.source.Current().SendValue(1)
	c.Check(recB.Values(), jc.DeepEquals, []int{0, 1})
}

func (s *extentSuite) TestWholeLifetimeFailureIsPermanent(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectAnyLogs()
	s.source = valuestreamtest.NewSource[int](func(run *valuestreamtest.Run[int]) {
		run.SendError(errBoom)
	})

	stream := s.newStream(c, valuestream.WholeLifetime, valuestream.ImmediateScheduler{})
	defer workertest.CleanKill(c, stream)

	rec := valuestreamtest.NewRecorder[int]()
	sub, err := stream.Subscribe(rec.OnValue, rec.OnError)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(rec.Errs(), jc.DeepEquals, []error{errBoom})
	select {
	case <-sub.Done():
	default:
		c.Fatal("expected subscription to be finished")
	}

	// Every later subscriber immediately receives the same failure,
	// with zero additional source activity.
	rec2 := valuestreamtest.NewRecorder[int]()
	sub2, err := stream.Subscribe(rec2.OnValue, rec2.OnError)
	c.Assert(err, jc.ErrorIsNil)

	c.Check(rec2.Errs(), jc.DeepEquals, []error{errBoom})
	c.Check(rec2.Values(), gc.HasLen, 0)
	c.Check(s.source.Starts(), gc.Equals, 1)

	// The inert token is safe to cancel, any number of times.
	sub2.Unsubscribe()
	sub2.Unsubscribe()

	c.Check(stream.Report(), gc.DeepEquals, map[string]any{
		"state":         "failed",
		"extent":        "whole-lifetime",
		"subscriptions": 0,
		"cached":        false,
		"starts":        1,
	})
}

func (s *extentSuite) TestWhileObservedFailureRecovers(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectAnyLogs()
	s.source = valuestreamtest.NewSource[int](func(run *valuestreamtest.Run[int]) {
		if run.Ordinal() == 1 {
			run.SendError(errBoom)
			return
		}
		run.SendValue(0)
	})

	stream := s.newStream(c, valuestream.WhileObserved, valuestream.ImmediateScheduler{})
	defer workertest.CleanKill(c, stream)

	rec := valuestreamtest.NewRecorder[int]()
	_, err := stream.Subscribe(rec.OnValue, rec.OnError)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(rec.Errs(), jc.DeepEquals, []error{errBoom})

	// The failure cleared all state back to idle, so a later
	// subscriber triggers a fresh observation, which now succeeds.
	c.Check(stream.Report(), gc.DeepEquals, map[string]any{
		"state":         "idle",
		"extent":        "while-observed",
		"subscriptions": 0,
		"cached":        false,
		"starts":        1,
	})

	rec2 := valuestreamtest.NewRecorder[int]()
	sub2, err := stream.Subscribe(rec2.OnValue, rec2.OnError)
	c.Assert(err, jc.ErrorIsNil)
	defer sub2.Unsubscribe()

	c.Check(rec2.Values(), jc.DeepEquals, []int{0})
	c.Check(rec2.Errs(), gc.HasLen, 0)
	c.Check(s.source.Starts(), gc.Equals, 2)
}

func (s *extentSuite) TestErrorBroadcastToAllSubscribers(c *gc.C) {
	defer s.setupMocks(c).Finish()

	s.expectAnyLogs()
	s.newEagerSource(0)

	stream := s.newStream(c, valuestream.WholeLifetime, valuestream.ImmediateScheduler{})
	defer workertest.CleanKill(c, stream)

	recA := valuestreamtest.NewRecorder[int]()
	_, err := stream.Subscribe(recA.OnValue, recA.OnError)
	c.Assert(err, jc.ErrorIsNil)

	recB := valuestreamtest.NewRecorder[int]()
	_, err = stream.Subscribe(recB.OnValue, recB.OnError)
	c.Assert(err, jc.ErrorIsNil)

	s.source.Current().SendError(errBoom)

	c.Check(recA.Errs(), jc.DeepEquals, []error{errBoom})
	c.Check(recB.Errs(), jc.DeepEquals, []error{errBoom})

	// The failed source terminated itself; the stream must not have
	// issued an explicit stop on top.
	c.Check(s.source.Stops(), gc.Equals, 0)
}
