// Package monitoring holds the process-wide diagnostic logger and run timing
// helpers shared by the localization binaries.
package monitoring

import (
	"log"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf and
// may be swapped with SetLogger so tests can capture or mute output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Timed logs the wall-clock duration of a pipeline stage. Use with defer:
//
//	defer monitoring.Timed("solve")()
func Timed(stage string) func() {
	start := time.Now()
	return func() {
		Logf("stage %s took %s", stage, time.Since(start).Round(time.Millisecond))
	}
}
