package logx

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(NewLogger(DefaultConfig()))
}

func std() *Logger { return defaultLogger.Load() }

// Configure replaces the default logger
func Configure(config *Config) {
	defaultLogger.Store(NewLogger(config))
}

// SetLevel sets the level of the default logger
func SetLevel(level Level) { std().SetLevel(level) }

// SetOutput redirects the default logger
func SetOutput(w io.Writer) { std().SetOutput(w) }

// ============================================================================
// Simple logging
// ============================================================================

func Debug(msg string) { std().log(LevelDebug, msg, nil, nil) }
func Info(msg string)  { std().log(LevelInfo, msg, nil, nil) }
func Warn(msg string)  { std().log(LevelWarn, msg, nil, nil) }
func Error(msg string) { std().log(LevelError, msg, nil, nil) }

func Debugf(format string, args ...interface{}) {
	std().log(LevelDebug, fmt.Sprintf(format, args...), nil, nil)
}

func Infof(format string, args ...interface{}) {
	std().log(LevelInfo, fmt.Sprintf(format, args...), nil, nil)
}

func Warnf(format string, args ...interface{}) {
	std().log(LevelWarn, fmt.Sprintf(format, args...), nil, nil)
}

func Errorf(format string, args ...interface{}) {
	std().log(LevelError, fmt.Sprintf(format, args...), nil, nil)
}

// Fatalf logs and exits the process
func Fatalf(format string, args ...interface{}) {
	l := std()
	l.log(LevelFatal, fmt.Sprintf(format, args...), nil, nil)
	l.exit(1)
}

// ============================================================================
// Structured logging
// ============================================================================

func WithFields(fields Fields) *Entry { return std().WithFields(fields) }

func WithField(key string, value interface{}) *Entry { return std().WithField(key, value) }

func WithError(err error) *Entry { return std().WithError(err) }

func WithContext(ctx context.Context) *Entry { return newEntry(std()).WithContext(ctx) }
