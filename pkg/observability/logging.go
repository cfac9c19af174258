package observability

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

// String returns the string representation of a log level
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) hclog() hclog.Level {
	switch l {
	case DEBUG:
		return hclog.Debug
	case WARN:
		return hclog.Warn
	case ERROR:
		return hclog.Error
	default:
		return hclog.Info
	}
}

// Logger provides structured logging on top of hclog
type Logger struct {
	hl hclog.Logger
}

// LoggerOptions configures NewLoggerWithOptions
type LoggerOptions struct {
	Name   string
	Level  LogLevel
	Output io.Writer
	JSON   bool
}

// NewLogger creates a text logger writing to output
func NewLogger(level LogLevel, output io.Writer) *Logger {
	return NewLoggerWithOptions(LoggerOptions{Level: level, Output: output})
}

// NewLoggerWithOptions creates a logger
func NewLoggerWithOptions(opts LoggerOptions) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	return &Logger{hl: hclog.New(&hclog.LoggerOptions{
		Name:       opts.Name,
		Level:      opts.Level.hclog(),
		Output:     opts.Output,
		JSONFormat: opts.JSON,
		TimeFormat: time.RFC3339,
	})}
}

// NewNopLogger discards everything
func NewNopLogger() *Logger {
	return &Logger{hl: hclog.NewNullLogger()}
}

// Named returns a logger with name appended to its subsystem name
func (l *Logger) Named(name string) *Logger {
	return &Logger{hl: l.hl.Named(name)}
}

// WithFields returns a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{hl: l.hl.With(flatten(fields)...)}
}

// WithField returns a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{hl: l.hl.With(key, value)}
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.hl.Debug(msg, flatten(fields...)...)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.hl.Info(msg, flatten(fields...)...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.hl.Warn(msg, flatten(fields...)...)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.hl.Error(msg, flatten(fields...)...)
}

// LogOperation logs the start and end of an operation
func (l *Logger) LogOperation(operation string, fn func() error) error {
	start := time.Now()
	l.Debug("starting operation", map[string]interface{}{"operation": operation})

	err := fn()

	duration := time.Since(start)
	if err != nil {
		l.Error("operation failed", map[string]interface{}{
			"operation": operation,
			"duration":  duration,
			"error":     err.Error(),
		})
	} else {
		l.Info("operation completed", map[string]interface{}{
			"operation": operation,
			"duration":  duration,
		})
	}

	return err
}

// LogOperationWithFields logs an operation with additional fields
func (l *Logger) LogOperationWithFields(operation string, fields map[string]interface{}, fn func() error) error {
	return l.WithFields(fields).LogOperation(operation, fn)
}

// flatten turns field maps into hclog key/value pairs in key order
func flatten(fields ...map[string]interface{}) []interface{} {
	merged := make(map[string]interface{})
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]interface{}, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, merged[k])
	}
	return out
}

// ParseLogLevel parses a log level string
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", level)
	}
}
