// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package valuestream

// Scheduler decides where a delivery to a subscriber runs. A stream
// schedules exactly one delivery per subscriber per result; the
// scheduler must preserve the relative order of deliveries it is given.
type Scheduler interface {
	// Schedule runs the delivery on the scheduler's execution context,
	// either synchronously on the calling goroutine or later on a
	// designated one.
	Schedule(deliver func())
}

// ImmediateScheduler runs every delivery synchronously on the goroutine
// that triggered it: the one calling Subscribe for a replay, or the one
// on which the source reports a result for a broadcast.
type ImmediateScheduler struct{}

// Schedule is part of the Scheduler interface.
func (ImmediateScheduler) Schedule(deliver func()) {
	deliver()
}
