// Package logger configures the process-wide slog logger: a compact
// human-readable handler on terminals, the stdlib text handler otherwise.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// out is the log destination. A variable so tests can capture output.
var out io.Writer = os.Stderr

// Init installs the global slog logger. LOG_LEVEL selects the level
// (debug/info/warn/error, default info). Call once early in main.
func Init() {
	level := parseLevel(os.Getenv("LOG_LEVEL"))
	var h slog.Handler
	if useColor() {
		h = newPrettyHandler(out, true, level)
	} else if isTerminal(os.Stderr) {
		h = newPrettyHandler(out, false, level)
	} else {
		h = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(h))
}

// useColor follows NO_COLOR and TERM=dumb per clig.dev guidelines.
func useColor() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTerminal(os.Stderr)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
