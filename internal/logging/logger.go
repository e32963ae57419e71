// Package logging provides the logging interface and default implementation
// used throughout blocklog.
//
// Design: four-level interface (Error, Warn, Info, Debug), adapted from the
// five-level Badger/Pebble/RocksDB-style logger this package was ported
// from — Fatalf and its background-error handoff have no analogue here,
// since there is no database to stop accepting writes: a fatal handshake
// Abort is instead surfaced as a returned error (see forwarder.Run).
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Example: 2025/12/30 18:45:13 INFO [forwarder] connected to 10.0.0.1:9000
//
// Component namespace prefixes are used for filtering:
//   - [blockio]   — EntryWriter/EntryReader operations
//   - [dirman]    — directory scan/retention operations
//   - [logger]    — logger actor operations
//   - [forwarder] — connect/handshake/forward/ack operations
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"strings"
)

// Level represents the logging level.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything including debug messages.
	LevelDebug
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name (case-insensitive). Unknown names default
// to LevelDebug, matching the project's BLOCKLOG_LOG default.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	case "info":
		return LevelInfo
	default:
		return LevelDebug
	}
}

// Logger defines the interface used for diagnostic logging.
//
// Concurrency: DefaultLogger and Discard are safe for concurrent use.
// User-provided Logger implementations must be safe for concurrent use, as
// logging may occur from multiple goroutines (logger actor, forwarder
// forward/ack tasks) simultaneously.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
}

// DefaultLogger is the default logger that writes to a specified output.
// It is stateless and safe for concurrent use (log.Logger is thread-safe).
// Level is read-only after construction — create a new logger to change level.
type DefaultLogger struct {
	logger *log.Logger
	level  Level
}

// NewDefaultLogger creates a new default logger with the specified level.
// It writes to stderr.
func NewDefaultLogger(level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(os.Stderr, "", log.LstdFlags),
		level:  level,
	}
}

// NewLogger creates a new logger with the specified output and level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(w, "", log.LstdFlags),
		level:  level,
	}
}

// Level returns the logging level.
func (l *DefaultLogger) Level() Level {
	return l.level
}

// Errorf logs a formatted error message.
func (l *DefaultLogger) Errorf(format string, args ...any) {
	if l.level >= LevelError {
		_ = l.logger.Output(2, "ERROR "+fmt.Sprintf(format, args...))
	}
}

// Warnf logs a formatted warning message.
func (l *DefaultLogger) Warnf(format string, args ...any) {
	if l.level >= LevelWarn {
		_ = l.logger.Output(2, "WARN "+fmt.Sprintf(format, args...))
	}
}

// Infof logs a formatted informational message.
func (l *DefaultLogger) Infof(format string, args ...any) {
	if l.level >= LevelInfo {
		_ = l.logger.Output(2, "INFO "+fmt.Sprintf(format, args...))
	}
}

// Debugf logs a formatted debug message.
func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.level >= LevelDebug {
		_ = l.logger.Output(2, "DEBUG "+fmt.Sprintf(format, args...))
	}
}

// Namespace prefixes for log messages, used with fmt.Sprintf to add
// component context.
const (
	NSBlockIO   = "[blockio] "
	NSDirman    = "[dirman] "
	NSLogger    = "[logger] "
	NSForwarder = "[forwarder] "
)

// IsNil returns true if the logger is nil or a typed-nil.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrDefault returns the provided logger if it is valid (non-nil and not
// typed-nil), otherwise a default debug-level logger.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return NewDefaultLogger(LevelDebug)
	}
	return l
}
