package logging

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

// Contract: DefaultLogger filters messages by level.
func TestDefaultLogger_LevelFiltering(t *testing.T) {
	tests := []struct {
		level     Level
		wantError bool
		wantWarn  bool
		wantInfo  bool
		wantDebug bool
	}{
		{LevelError, true, false, false, false},
		{LevelWarn, true, true, false, false},
		{LevelInfo, true, true, true, false},
		{LevelDebug, true, true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.level)

			logger.Errorf("error message")
			logger.Warnf("warn message")
			logger.Infof("info message")
			logger.Debugf("debug message")

			output := buf.String()

			if got := strings.Contains(output, "ERROR "); got != tt.wantError {
				t.Errorf("Error logged: got %v, want %v", got, tt.wantError)
			}
			if got := strings.Contains(output, "WARN "); got != tt.wantWarn {
				t.Errorf("Warn logged: got %v, want %v", got, tt.wantWarn)
			}
			if got := strings.Contains(output, "INFO "); got != tt.wantInfo {
				t.Errorf("Info logged: got %v, want %v", got, tt.wantInfo)
			}
			if got := strings.Contains(output, "DEBUG "); got != tt.wantDebug {
				t.Errorf("Debug logged: got %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

// Contract: DefaultLogger formats messages correctly.
func TestDefaultLogger_Formatted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelDebug)

	logger.Errorf("error %d", 1)
	logger.Warnf("warn %d", 2)
	logger.Infof("info %d", 3)
	logger.Debugf("debug %d", 4)

	output := buf.String()

	if !strings.Contains(output, "error 1") {
		t.Error("formatted error message not found")
	}
	if !strings.Contains(output, "warn 2") {
		t.Error("formatted warn message not found")
	}
	if !strings.Contains(output, "info 3") {
		t.Error("formatted info message not found")
	}
	if !strings.Contains(output, "debug 4") {
		t.Error("formatted debug message not found")
	}
}

// Contract: DiscardLogger does not panic.
func TestDiscardLogger(t *testing.T) {
	Discard.Errorf("error %d", 1)
	Discard.Warnf("warn %d", 1)
	Discard.Infof("info %d", 1)
	Discard.Debugf("debug %d", 1)
}

// Contract: Level.String() returns human-readable level names.
func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelError, "ERROR"},
		{LevelWarn, "WARN"},
		{LevelInfo, "INFO"},
		{LevelDebug, "DEBUG"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

// Contract: ParseLevel accepts case-insensitive names and defaults to debug.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"error", LevelError},
		{"ERROR", LevelError},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"info", LevelInfo},
		{"debug", LevelDebug},
		{"", LevelDebug},
		{"garbage", LevelDebug},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// Contract: Namespace constants are in [name] format.
func TestNamespaceConstants(t *testing.T) {
	namespaces := []string{NSBlockIO, NSDirman, NSLogger, NSForwarder}
	for _, ns := range namespaces {
		if !strings.HasPrefix(ns, "[") || !strings.Contains(ns, "]") {
			t.Errorf("namespace %q should be in [name] format", ns)
		}
	}
}

// Contract: Log format follows "TIMESTAMP LEVEL [component] message" pattern.
func TestLogFormat_Standard(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelInfo)

	logger.Infof("%s%s", NSForwarder, "connected")

	output := buf.String()

	if strings.HasPrefix(output, "blocklog") {
		t.Errorf("output should NOT start with 'blocklog', got: %s", output)
	}

	if !strings.Contains(output, "INFO ") {
		t.Error("output should contain 'INFO '")
	}

	if !strings.Contains(output, "[forwarder]") {
		t.Error("output should contain '[forwarder]'")
	}

	if !strings.Contains(output, "connected") {
		t.Error("output should contain 'connected'")
	}
}

// Contract: IsNil returns true for nil interface.
func TestIsNil_NilInterface(t *testing.T) {
	var l Logger = nil
	if !IsNil(l) {
		t.Error("IsNil should return true for nil interface")
	}
}

// Contract: IsNil returns true for typed-nil (nil pointer assigned to interface).
func TestIsNil_TypedNil(t *testing.T) {
	var dl *DefaultLogger = nil
	var l Logger = dl
	if !IsNil(l) {
		t.Error("IsNil should return true for typed-nil")
	}
}

// Contract: IsNil returns false for valid logger.
func TestIsNil_ValidLogger(t *testing.T) {
	l := NewDefaultLogger(LevelWarn)
	if IsNil(l) {
		t.Error("IsNil should return false for valid logger")
	}
}

// Contract: OrDefault returns default logger for nil.
func TestOrDefault_Nil(t *testing.T) {
	l := OrDefault(nil)
	if l == nil {
		t.Error("OrDefault should return a non-nil logger")
	}
	dl, ok := l.(*DefaultLogger)
	if !ok {
		t.Error("OrDefault should return a *DefaultLogger")
	}
	if dl.Level() != LevelDebug {
		t.Errorf("OrDefault should return DEBUG level, got %s", dl.Level())
	}
}

// Contract: OrDefault returns default logger for typed-nil.
func TestOrDefault_TypedNil(t *testing.T) {
	var dl *DefaultLogger = nil
	var l Logger = dl

	result := OrDefault(l)
	if result == nil {
		t.Error("OrDefault should return a non-nil logger for typed-nil")
	}
	resultDL, ok := result.(*DefaultLogger)
	if !ok {
		t.Error("OrDefault should return a *DefaultLogger")
	}
	if resultDL.Level() != LevelDebug {
		t.Errorf("OrDefault should return DEBUG level, got %s", resultDL.Level())
	}
}

// Contract: OrDefault returns the provided logger if valid.
func TestOrDefault_ValidLogger(t *testing.T) {
	original := NewDefaultLogger(LevelDebug)
	result := OrDefault(original)
	if result != original {
		t.Error("OrDefault should return the same logger if valid")
	}
}

// Contract: DefaultLogger is safe for concurrent use.
func TestDefaultLogger_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelDebug)

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logger.Errorf("error %d", n)
			logger.Warnf("warn %d", n)
			logger.Infof("info %d", n)
			logger.Debugf("debug %d", n)
		}(i)
	}
	wg.Wait()
}
