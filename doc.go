// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package valuestream multiplexes a single change-tracking observation
// to any number of subscribers.
//
// A Stream owns at most one underlying observation at a time, started
// lazily via its Source and stopped according to its Extent policy.
// Subscribers joining while a value is cached have that value replayed
// to them, so late joiners never wait for the next change. Deliveries
// run through a pluggable Scheduler, either synchronously on the
// triggering goroutine or serialised onto a dedicated one.
//
// The underlying change-detection machinery is deliberately out of
// scope: the stream consumes it solely through the Source contract.
package valuestream
