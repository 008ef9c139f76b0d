package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// LegacyLogger prints plain lines; selected with PEERSYNC_USE_LEGACY_LOGGER=true
type LegacyLogger struct {
	mu     sync.RWMutex
	level  Level
	fields []any
	out    io.Writer
	errOut io.Writer
}

// NewLegacyLogger creates a legacy logger at info level
func NewLegacyLogger() *LegacyLogger {
	return &LegacyLogger{level: LevelInfo, out: os.Stdout, errOut: os.Stderr}
}

// SetLevel changes the minimum level
func (l *LegacyLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *LegacyLogger) print(level Level, w io.Writer, tag, msg string, args []any) {
	l.mu.RLock()
	enabled := level >= l.level
	fields := append(append([]any{}, l.fields...), args...)
	l.mu.RUnlock()
	if !enabled {
		return
	}
	if len(fields) == 0 {
		fmt.Fprintf(w, "[%s] %s\n", tag, msg)
		return
	}
	fmt.Fprintf(w, "[%s] %s %v\n", tag, msg, fields)
}

func (l *LegacyLogger) Debug(msg string, args ...any) { l.print(LevelDebug, l.out, "DEBUG", msg, args) }
func (l *LegacyLogger) Info(msg string, args ...any)  { l.print(LevelInfo, l.out, "INFO", msg, args) }
func (l *LegacyLogger) Warn(msg string, args ...any)  { l.print(LevelWarn, l.errOut, "WARN", msg, args) }
func (l *LegacyLogger) Error(msg string, args ...any) { l.print(LevelError, l.errOut, "ERROR", msg, args) }

// With returns a legacy logger carrying extra fields
func (l *LegacyLogger) With(args ...any) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &LegacyLogger{
		level:  l.level,
		fields: append(append([]any{}, l.fields...), args...),
		out:    l.out,
		errOut: l.errOut,
	}
}

func (l *LegacyLogger) Sync() error     { return nil }
func (l *LegacyLogger) Shutdown() error { return nil }
