// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package valuestream

import (
	"github.com/juju/loggo/v2"
)

// Logger facilitates emitting log messages.
type Logger interface {
	Warningf(string, ...interface{})
	Infof(string, ...interface{})
	Debugf(string, ...interface{})
	Tracef(string, ...interface{})
	IsTraceEnabled() bool
}

func defaultLogger() Logger {
	return loggo.GetLogger("valuestream")
}
