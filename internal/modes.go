package internal

import (
	"strconv"
	"sync/atomic"
)

// Output mode switch.
type Mode uint32

const (
	ModeQuiet   Mode = 1 << iota // Only warnings and errors are logged.
	ModeDebug                    // Debug records are logged. Wins over quiet.
	ModeVerbose                  // Records carry their source location.
)

var (
	rawQuiet   = "false" // Set via -ldflags -X.
	rawDebug   = "false" // Set via -ldflags -X.
	rawVerbose = "false" // Set via -ldflags -X.

	modes atomic.Uint32
)

// Seeds the modes from linker flags. Unparsable values leave a mode off.
func init() {
	for raw, m := range map[*string]Mode{&rawQuiet: ModeQuiet, &rawDebug: ModeDebug, &rawVerbose: ModeVerbose} {
		if v, err := strconv.ParseBool(*raw); err == nil {
			SetMode(m, v)
		}
	}
}

// Switches m on or off.
func SetMode(m Mode, enabled bool) {
	for {
		old := modes.Load()
		next := old &^ uint32(m)
		if enabled {
			next = old | uint32(m)
		}
		if modes.CompareAndSwap(old, next) {
			return
		}
	}
}

// Reports whether every mode in m is on.
func ModeEnabled(m Mode) bool {
	return Mode(modes.Load())&m == m
}
