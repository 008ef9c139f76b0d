package logger

import (
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logging interface used across the node
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	Sync() error     // flush buffered output
	Shutdown() error // flush and close owned writers
}

// Level is a slog severity; the legacy logger filters on the same scale.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// ParseLevel maps log.level to a Level. Unknown names fall back to info.
func ParseLevel(s string) Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return LevelInfo
	}
	return l
}

// Config describes the node's log sinks: one console stream and an
// optional rotated file, both fed by the same handler.
type Config struct {
	Level Level
	JSON  bool

	// Console defaults to os.Stderr.
	Console io.Writer
	// File enables rotated file output when non-nil.
	File *RotateConfig
}

// RotateConfig maps onto lumberjack's size and age limits
type RotateConfig struct {
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	MaxBackups int
	Compress   bool
}
