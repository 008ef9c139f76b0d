package scheduler

import (
	"context"
	"time"

	"github.com/Ning0612/peersync/internal/domain"
)

// Scheduler defines the interface for sync schedulers
type Scheduler interface {
	// Start begins the scheduling loop
	Start(ctx context.Context) error

	// Stop stops the loop and cancels a cycle in progress
	Stop() error

	// Status returns the current scheduler status
	Status() *Status
}

// Status represents the current state of a scheduler
type Status struct {
	Running        bool
	Phase          domain.SyncPhase
	LastRunTime    time.Time
	NextRunTime    time.Time
	TotalRuns      int
	SuccessfulRuns int
	FailedRuns     int
	LastError      string
}

// Config contains scheduler configuration
type Config struct {
	// StartupDelay is the wait before the first run
	StartupDelay time.Duration

	// Interval is the wait between the end of one run and the start of the next
	Interval time.Duration
}

// SyncRunner executes one sync cycle
type SyncRunner interface {
	RunSync(ctx context.Context) error
}

// SyncRunnerFunc adapts a function to SyncRunner
type SyncRunnerFunc func(ctx context.Context) error

// RunSync calls f(ctx)
func (f SyncRunnerFunc) RunSync(ctx context.Context) error { return f(ctx) }
