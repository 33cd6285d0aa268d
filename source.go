// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package valuestream

// Source is the change-detection engine a stream observes. Each Start
// call produces one new underlying observation.
type Source[T any] interface {
	// Start begins a new observation. The source must deliver an initial
	// value or error exactly once, synchronously or asynchronously, and
	// then zero or more further notifications as the observed data
	// changes, until Stop is called on the returned handle or the source
	// delivers an error. A source that has delivered an error terminates
	// itself and issues no further notifications.
	//
	// The callbacks may be invoked from any goroutine.
	Start(onValue func(T), onError func(error)) Handle
}

// Handle controls one running observation.
type Handle interface {
	// Stop terminates the observation. The stream never stops the same
	// handle twice, and never stops a handle whose source has already
	// terminated itself with an error.
	Stop()
}
