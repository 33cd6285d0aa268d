// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package valuestream

import (
	"github.com/juju/errors"
)

// Extent selects the lifetime policy for a stream's underlying
// observation. It is fixed at construction.
type Extent int

const (
	// WhileObserved ties the underlying observation to the subscriber
	// count. The observation starts when the first subscriber joins and
	// stops as soon as the last one leaves. A failure resets the stream
	// to idle, so a later subscriber triggers a brand-new observation
	// rather than inheriting a stale error.
	WhileObserved Extent = iota

	// WholeLifetime ties the underlying observation to the stream
	// itself. Once started it keeps running with or without subscribers,
	// until the stream is killed. A failure is permanent for the stream:
	// every later subscriber receives the same error immediately, with
	// no new source activity.
	WholeLifetime
)

// String is part of the fmt.Stringer interface.
func (e Extent) String() string {
	switch e {
	case WhileObserved:
		return "while-observed"
	case WholeLifetime:
		return "whole-lifetime"
	default:
		return "unknown"
	}
}

func (e Extent) validate() error {
	switch e {
	case WhileObserved, WholeLifetime:
		return nil
	default:
		return errors.NotValidf("extent %d", int(e))
	}
}
