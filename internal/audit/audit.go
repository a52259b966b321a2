// Package audit prints verbose delivery traces when debug mode is on.
package audit

import (
	"log"
	"os"
	"sync/atomic"
)

var enabled atomic.Bool

func init() {
	RefreshFromEnv()
}

// RefreshFromEnv re-reads the MAIL_DEBUG toggle.
func RefreshFromEnv() {
	Set(os.Getenv("MAIL_DEBUG") == "1" || os.Getenv("MAIL_DEBUG") == "true")
}

// Set switches debug tracing on or off at runtime.
func Set(on bool) {
	enabled.Store(on)
}

// Enabled reports whether debug tracing is on.
func Enabled() bool {
	return enabled.Load()
}

// Log prints a debug trace line when debug mode is on.
func Log(format string, args ...any) {
	if Enabled() {
		log.Printf("[AUDIT] "+format, args...)
	}
}
