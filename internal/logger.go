package internal

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Creates the program logger writing to w.
//
// Terminals get a colorized handler; anything else gets plain logfmt so build
// logs stay greppable in CI. Verbose output adds source locations.
func NewLogger(w io.Writer, level slog.Level, verbose bool) *slog.Logger {
	var handler slog.Handler
	if isTerminal(w) {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			AddSource:  verbose,
			TimeFormat: time.Kitchen,
		})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: verbose,
		})
	}
	return slog.New(handler).WithGroup(Name)
}

// Returns the log level derived from [ModeQuiet] and [ModeDebug].
func LogLevel() slog.Level {
	if ModeEnabled(ModeDebug) {
		return slog.LevelDebug
	}
	if ModeEnabled(ModeQuiet) {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
