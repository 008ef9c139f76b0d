package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Ning0612/peersync/internal/domain"
	"github.com/Ning0612/peersync/internal/logger"
)

// IntervalScheduler runs a cycle after a startup delay and then again a
// fixed interval after each cycle completes. Cycles never overlap.
type IntervalScheduler struct {
	config Config
	runner SyncRunner
	log    logger.Logger

	// Runtime state
	mu          sync.RWMutex
	running     bool
	stopped     bool      // a stopped scheduler cannot be restarted
	stopOnce    sync.Once // Stop() is idempotent
	closeOnce   sync.Once // stoppedChan is closed exactly once
	stopChan    chan struct{}
	stoppedChan chan struct{}
	phase       domain.SyncPhase

	// Statistics
	stats struct {
		lastRunTime    time.Time
		nextRunTime    time.Time
		totalRuns      int
		successfulRuns int
		failedRuns     int
		lastError      string
	}
}

// NewIntervalScheduler creates a new interval-based scheduler
func NewIntervalScheduler(config Config, runner SyncRunner) (*IntervalScheduler, error) {
	if config.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", config.Interval)
	}
	if config.StartupDelay < 0 {
		return nil, fmt.Errorf("startup delay cannot be negative, got %v", config.StartupDelay)
	}
	if runner == nil {
		return nil, fmt.Errorf("sync runner cannot be nil")
	}

	return &IntervalScheduler{
		config:      config,
		runner:      runner,
		log:         logger.With("component", "scheduler"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
		phase:       domain.PhaseIdle,
	}, nil
}

// Start begins the scheduling loop
func (s *IntervalScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	if s.stopped {
		return fmt.Errorf("scheduler cannot be restarted after stop")
	}

	s.running = true
	s.stats.nextRunTime = time.Now().Add(s.config.StartupDelay)

	go s.run(ctx)
	return nil
}

// run is the main scheduling loop
func (s *IntervalScheduler) run(parent context.Context) {
	defer s.closeOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.running = false
		s.phase = domain.PhaseIdle
		s.mu.Unlock()
		close(s.stoppedChan)
	})

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	timer := time.NewTimer(s.config.StartupDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.executeSync(ctx)
			if ctx.Err() != nil {
				return
			}

			s.mu.Lock()
			s.stats.nextRunTime = time.Now().Add(s.config.Interval)
			s.mu.Unlock()
			timer.Reset(s.config.Interval)
		}
	}
}

// executeSync runs one cycle and records its outcome
func (s *IntervalScheduler) executeSync(ctx context.Context) {
	s.mu.Lock()
	s.stats.lastRunTime = time.Now()
	s.stats.totalRuns++
	s.stats.nextRunTime = time.Time{}
	s.mu.Unlock()

	err := s.runner.RunSync(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = domain.PhaseIdle
	if err != nil {
		s.stats.failedRuns++
		s.stats.lastError = err.Error()
		if ctx.Err() == nil {
			s.log.Warn("sync cycle failed", "run", s.stats.totalRuns, "error", err)
		}
		return
	}
	s.stats.successfulRuns++
	s.stats.lastError = ""
}

// SetPhase records the phase of the cycle in progress
func (s *IntervalScheduler) SetPhase(phase domain.SyncPhase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
}

// Stop stops the loop, cancelling a cycle in progress, and waits for it to exit
func (s *IntervalScheduler) Stop() error {
	s.mu.RLock()
	if !s.running {
		s.mu.RUnlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.mu.RUnlock()

	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.stoppedChan

	return nil
}

// Done is closed once the loop has exited
func (s *IntervalScheduler) Done() <-chan struct{} {
	return s.stoppedChan
}

// Status returns the current scheduler status
func (s *IntervalScheduler) Status() *Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return &Status{
		Running:        s.running,
		Phase:          s.phase,
		LastRunTime:    s.stats.lastRunTime,
		NextRunTime:    s.stats.nextRunTime,
		TotalRuns:      s.stats.totalRuns,
		SuccessfulRuns: s.stats.successfulRuns,
		FailedRuns:     s.stats.failedRuns,
		LastError:      s.stats.lastError,
	}
}
