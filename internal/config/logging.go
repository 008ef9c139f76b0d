package config

import (
	"strings"

	"github.com/Ning0612/peersync/internal/logger"
)

// LoggerConfig converts the log section into a logger.Config.
// Output goes to stderr, plus the rotated file when log.file is set.
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.Config{
		Level: logger.ParseLevel(c.Log.Level),
		JSON:  strings.EqualFold(c.Log.Format, "json"),
	}

	if c.Log.File != "" {
		cfg.File = &logger.RotateConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxAgeDays: c.Log.MaxAgeDays,
			MaxBackups: c.Log.MaxBackups,
			Compress:   c.Log.Compress,
		}
	}

	return cfg
}
