// logging.go: Pluggable logging for analysis modules and hosts
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package entropymodule

import (
	"sync"
)

// Logger defines the pluggable logging interface for the module system.
//
// Host pipelines hand a module its logger at construction; the interface
// lets them integrate any logging framework (zap, logrus, zerolog, custom
// loggers) without this library taking a dependency on one.
//
// Design principles:
//   - Zero dependencies: Interface has no external logging dependencies
//   - Performance friendly: Structured key-value args, minimal allocations
//   - Contextual logging: With() method for adding persistent context
//   - Level-based: Standard log levels (Debug, Info, Warn, Error)
//
// A module failure surfaces as exactly one Error line carrying the file
// identifier and the failure message; everything else logs at Debug.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, args ...any)

	// Info logs an info message with optional key-value pairs
	Info(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs
	Warn(msg string, args ...any)

	// Error logs an error message with optional key-value pairs
	Error(msg string, args ...any)

	// With returns a new logger with persistent context key-value pairs
	// The returned logger should include all provided context in subsequent log calls
	With(args ...any) Logger
}

// NewLogger creates a Logger from supported logger types.
//
// Supported types:
//   - Logger interface: Used directly
//   - nil: Returns NoOpLogger for silent operation
//   - Unsupported types: Panic with descriptive message
func NewLogger(logger any) Logger {
	switch l := logger.(type) {
	case Logger:
		return l // Already implements our interface
	case nil:
		return NewNoOpLogger() // Silent logger
	default:
		panic("unsupported logger type: expected Logger interface or nil")
	}
}

// NoOpLogger provides a silent logger implementation for testing and
// minimal setups. It discards every message, which suits hosts that route
// module diagnostics through their own logging stack.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-operation logger.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug implements Logger interface (no-op)
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info implements Logger interface (no-op)
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn implements Logger interface (no-op)
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error implements Logger interface (no-op)
func (n *NoOpLogger) Error(msg string, args ...any) {}

// With implements Logger interface (no-op)
func (n *NoOpLogger) With(args ...any) Logger {
	return n // Return same instance since it's stateless
}

// TestLogger for testing - captures log messages
type TestLogger struct {
	mu       sync.RWMutex
	Messages []TestLogMessage
}

// TestLogMessage represents a captured log message for testing.
type TestLogMessage struct {
	Level   string
	Message string
	Args    []any
}

// NewTestLogger creates a new test logger.
func NewTestLogger() *TestLogger {
	return &TestLogger{
		Messages: make([]TestLogMessage, 0),
	}
}

// Debug implements Logger interface (captures message)
func (t *TestLogger) Debug(msg string, args ...any) {
	t.capture("DEBUG", msg, args)
}

// Info implements Logger interface (captures message)
func (t *TestLogger) Info(msg string, args ...any) {
	t.capture("INFO", msg, args)
}

// Warn implements Logger interface (captures message)
func (t *TestLogger) Warn(msg string, args ...any) {
	t.capture("WARN", msg, args)
}

// Error implements Logger interface (captures message)
func (t *TestLogger) Error(msg string, args ...any) {
	t.capture("ERROR", msg, args)
}

func (t *TestLogger) capture(level, msg string, args []any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = append(t.Messages, TestLogMessage{
		Level:   level,
		Message: msg,
		Args:    args,
	})
}

// With implements Logger interface (returns new logger with fields)
func (t *TestLogger) With(args ...any) Logger {
	// For testing, we don't need to implement context chaining
	// Return a new instance to avoid sharing state
	t.mu.RLock()
	messages := make([]TestLogMessage, len(t.Messages))
	copy(messages, t.Messages)
	t.mu.RUnlock()

	return &TestLogger{Messages: messages}
}

// HasMessage checks if the logger captured a message with the given level and text.
func (t *TestLogger) HasMessage(level, message string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, msg := range t.Messages {
		if msg.Level == level && msg.Message == message {
			return true
		}
	}
	return false
}

// CountLevel returns how many captured messages carry the given level.
func (t *TestLogger) CountLevel(level string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, msg := range t.Messages {
		if msg.Level == level {
			count++
		}
	}
	return count
}

// Clear removes all captured messages.
func (t *TestLogger) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Messages = t.Messages[:0]
}

// DefaultLogger creates a reasonable default logger for the library.
//
// Returns NoOpLogger; hosts should provide their own Logger implementation
// to see module diagnostics.
func DefaultLogger() Logger {
	return NewNoOpLogger()
}
