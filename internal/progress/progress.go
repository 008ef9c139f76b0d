package progress

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Reporter receives fetch progress for one sync cycle.
// Fetches run concurrently, so every call names the file it is about.
type Reporter interface {
	// SetTotal sets the number of fetches planned for the cycle
	SetTotal(totalFiles int)
	// Start begins tracking a fetch
	Start(name, peer string)
	// Update reports bytes received so far for name
	Update(name string, bytesTransferred int64)
	// Complete marks a fetch as written to disk
	Complete(name string, bytes int64)
	// Error reports a failed fetch
	Error(name string, err error)
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type           UpdateType
	File           string
	Peer           string
	FileBytes      int64
	FilesCompleted int
	FilesFailed    int
	FilesTotal     int
	BytesCompleted int64
	BytesPerSecond float64
	Error          error
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdateStart UpdateType = iota
	UpdateProgress
	UpdateComplete
	UpdateError
)

// String returns a short label for the update type
func (t UpdateType) String() string {
	switch t {
	case UpdateStart:
		return "start"
	case UpdateProgress:
		return "progress"
	case UpdateComplete:
		return "complete"
	case UpdateError:
		return "error"
	default:
		return "unknown"
	}
}

type transfer struct {
	peer    string
	started time.Time
}

// CallbackReporter implements Reporter with a callback function
type CallbackReporter struct {
	callback       Callback
	mu             sync.Mutex
	inflight       map[string]transfer
	filesTotal     int
	filesCompleted int
	filesFailed    int
	bytesCompleted int64
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{
		callback: callback,
		inflight: make(map[string]transfer),
	}
}

// SetTotal resets the counters for a new cycle of totalFiles fetches
func (r *CallbackReporter) SetTotal(totalFiles int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filesTotal = totalFiles
	r.filesCompleted = 0
	r.filesFailed = 0
	r.bytesCompleted = 0
	r.inflight = make(map[string]transfer)
}

// snapshot fills the cycle-wide counters; r.mu must be held
func (r *CallbackReporter) snapshot(u Update) Update {
	u.FilesCompleted = r.filesCompleted
	u.FilesFailed = r.filesFailed
	u.FilesTotal = r.filesTotal
	u.BytesCompleted = r.bytesCompleted
	return u
}

// emit calls the callback outside the lock so it may call back into r
func (r *CallbackReporter) emit(u Update) {
	if r.callback != nil {
		r.callback(u)
	}
}

// Start begins tracking a fetch
func (r *CallbackReporter) Start(name, peer string) {
	r.mu.Lock()
	r.inflight[name] = transfer{peer: peer, started: time.Now()}
	update := r.snapshot(Update{Type: UpdateStart, File: name, Peer: peer})
	r.mu.Unlock()

	r.emit(update)
}

// Update reports progress on one fetch
func (r *CallbackReporter) Update(name string, bytesTransferred int64) {
	r.mu.Lock()
	tr := r.inflight[name]
	var bytesPerSecond float64
	if !tr.started.IsZero() {
		if elapsed := time.Since(tr.started).Seconds(); elapsed > 0 {
			bytesPerSecond = float64(bytesTransferred) / elapsed
		}
	}
	update := r.snapshot(Update{
		Type:           UpdateProgress,
		File:           name,
		Peer:           tr.peer,
		FileBytes:      bytesTransferred,
		BytesPerSecond: bytesPerSecond,
	})
	r.mu.Unlock()

	r.emit(update)
}

// Complete marks a fetch as done
func (r *CallbackReporter) Complete(name string, bytes int64) {
	r.mu.Lock()
	tr := r.inflight[name]
	delete(r.inflight, name)
	r.filesCompleted++
	r.bytesCompleted += bytes
	update := r.snapshot(Update{Type: UpdateComplete, File: name, Peer: tr.peer, FileBytes: bytes})
	r.mu.Unlock()

	r.emit(update)
}

// Error reports a failed fetch
func (r *CallbackReporter) Error(name string, err error) {
	r.mu.Lock()
	tr := r.inflight[name]
	delete(r.inflight, name)
	r.filesFailed++
	update := r.snapshot(Update{Type: UpdateError, File: name, Peer: tr.peer, Error: err})
	r.mu.Unlock()

	r.emit(update)
}

// InFlight returns the number of fetches started but not finished
func (r *CallbackReporter) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// ProgressWriter wraps an io.Writer and reports bytes written for one file
type ProgressWriter struct {
	writer      io.Writer
	reporter    Reporter
	name        string
	transferred int64
}

// NewProgressWriter creates a new progress-tracking writer
func NewProgressWriter(w io.Writer, name string, reporter Reporter) *ProgressWriter {
	return &ProgressWriter{
		writer:   w,
		reporter: reporter,
		name:     name,
	}
}

// Write implements io.Writer
func (pw *ProgressWriter) Write(p []byte) (n int, err error) {
	n, err = pw.writer.Write(p)
	if n > 0 {
		pw.transferred += int64(n)
		if pw.reporter != nil {
			pw.reporter.Update(pw.name, pw.transferred)
		}
	}
	return n, err
}

// Transferred returns the number of bytes written so far
func (pw *ProgressWriter) Transferred() int64 {
	return pw.transferred
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) SetTotal(totalFiles int)                    {}
func (NullReporter) Start(name, peer string)                    {}
func (NullReporter) Update(name string, bytesTransferred int64) {}
func (NullReporter) Complete(name string, bytes int64)          {}
func (NullReporter) Error(name string, err error)               {}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatSpeed formats bytes per second into human-readable string
func FormatSpeed(bytesPerSecond float64) string {
	return FormatBytes(int64(bytesPerSecond)) + "/s"
}
