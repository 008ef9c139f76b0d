package progress

import (
	"github.com/Ning0612/peersync/internal/logger"
)

// LogReporter writes fetch progress to a logger.
// Byte-level updates are dropped; only lifecycle events are logged.
type LogReporter struct {
	log logger.Logger
}

// NewLogReporter creates a reporter logging to log
func NewLogReporter(log logger.Logger) *LogReporter {
	return &LogReporter{log: log}
}

// Callback returns a Callback suitable for NewCallbackReporter
func (l *LogReporter) Callback() Callback {
	return func(u Update) {
		switch u.Type {
		case UpdateStart:
			l.log.Debug("fetch started", "file", u.File, "peer", u.Peer,
				"done", u.FilesCompleted+u.FilesFailed, "total", u.FilesTotal)
		case UpdateComplete:
			l.log.Info("fetched file", "file", u.File, "peer", u.Peer, "size", FormatBytes(u.FileBytes),
				"done", u.FilesCompleted+u.FilesFailed, "total", u.FilesTotal)
		case UpdateError:
			l.log.Warn("fetch failed", "file", u.File, "peer", u.Peer, "error", u.Error,
				"done", u.FilesCompleted+u.FilesFailed, "total", u.FilesTotal)
		}
	}
}
