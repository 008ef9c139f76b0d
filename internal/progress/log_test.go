package progress

import (
	"github.com/Ning0612/peersync/internal/logger"
)

// captureLogger records messages in order
type captureLogger struct {
	msgs []string
}

func (c *captureLogger) Debug(msg string, args ...any) { c.msgs = append(c.msgs, msg) }
func (c *captureLogger) Info(msg string, args ...any)  { c.msgs = append(c.msgs, msg) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.msgs = append(c.msgs, msg) }
func (c *captureLogger) Error(msg string, args ...any) { c.msgs = append(c.msgs, msg) }
func (c *captureLogger) With(args ...any) logger.Logger { return c }
func (c *captureLogger) Sync() error                    { return nil }
func (c *captureLogger) Shutdown() error                { return nil }
