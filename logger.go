package taskstream

import (
	"fmt"
	"os"
	"strings"
)

// Logger defines logging methods used by the library. Implementations should be cheap.
// Default is FmtLogger which writes to stdout/stderr using fmt.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Level is the minimum severity printed by FmtLogger.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps "debug", "info", "warn" (or "warning") and "error" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("taskstream: unknown log level %q", s)
}

// FmtLogger is a minimal logger that prints messages with level prefixes.
// Debug/Info go to stdout; Warn/Error go to stderr.
type FmtLogger struct {
	// Min drops messages below this level. The zero value prints everything.
	Min Level
}

// NewFmtLogger creates a new FmtLogger printing every level.
func NewFmtLogger() *FmtLogger { return &FmtLogger{} }

// NewLeveledLogger creates a FmtLogger that drops messages below min.
func NewLeveledLogger(min Level) *FmtLogger { return &FmtLogger{Min: min} }

func (l FmtLogger) Debugf(format string, args ...any) {
	if l.Min <= LevelDebug {
		fmt.Printf("[DEBUG] "+format+"\n", args...)
	}
}

func (l FmtLogger) Infof(format string, args ...any) {
	if l.Min <= LevelInfo {
		fmt.Printf("[INFO]  "+format+"\n", args...)
	}
}

func (l FmtLogger) Warnf(format string, args ...any) {
	if l.Min <= LevelWarn {
		fmt.Fprintf(os.Stderr, "[WARN]  "+format+"\n", args...)
	}
}

func (l FmtLogger) Errorf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[ERROR] "+format+"\n", args...)
}

// nopLogger discards everything; used by tests and when callers opt out.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
