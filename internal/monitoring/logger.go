// Package monitoring holds the process-wide diagnostic logger used by the
// capture and tracking pipeline. Components log through the package-level
// functions so tests can mute or capture output without plumbing a logger
// through every constructor.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug enables or disables Debugf output.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// Debugf logs through Logf only when debug logging is enabled. The pipeline
// uses this for per-frame diagnostics that would otherwise swamp the log.
func Debugf(format string, v ...interface{}) {
	if debugEnabled.Load() {
		Logf(format, v...)
	}
}
