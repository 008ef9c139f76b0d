package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ning0612/peersync/internal/domain"
)

// mockSyncRunner records the start and end of every run
type mockSyncRunner struct {
	mu        sync.Mutex
	starts    []time.Time
	ends      []time.Time
	active    int
	overlap   bool
	shouldErr bool
	delay     time.Duration
	cancelled bool
}

func (m *mockSyncRunner) RunSync(ctx context.Context) error {
	m.mu.Lock()
	m.starts = append(m.starts, time.Now())
	m.active++
	if m.active > 1 {
		m.overlap = true
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.active--
		m.ends = append(m.ends, time.Now())
		m.mu.Unlock()
	}()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			m.mu.Lock()
			m.cancelled = true
			m.mu.Unlock()
			return ctx.Err()
		}
	}
	if m.shouldErr {
		return errors.New("tracker unavailable")
	}
	return nil
}

func (m *mockSyncRunner) runs() ([]time.Time, []time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.starts...), append([]time.Time(nil), m.ends...)
}

func TestNewIntervalScheduler(t *testing.T) {
	runner := &mockSyncRunner{}

	scheduler, err := NewIntervalScheduler(Config{StartupDelay: time.Second, Interval: time.Second}, runner)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}
	if scheduler == nil {
		t.Fatal("Scheduler is nil")
	}
	if phase := scheduler.Status().Phase; phase != domain.PhaseIdle {
		t.Errorf("Initial phase = %q, want idle", phase)
	}
}

func TestNewIntervalScheduler_InvalidConfig(t *testing.T) {
	runner := &mockSyncRunner{}

	tests := []struct {
		name   string
		config Config
	}{
		{"zero interval", Config{Interval: 0}},
		{"negative interval", Config{Interval: -time.Second}},
		{"negative startup delay", Config{StartupDelay: -time.Second, Interval: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewIntervalScheduler(tt.config, runner); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestNewIntervalScheduler_NilRunner(t *testing.T) {
	_, err := NewIntervalScheduler(Config{Interval: time.Second}, nil)
	if err == nil {
		t.Error("Expected error for nil runner, got nil")
	}
}

func TestIntervalScheduler_StartupDelay(t *testing.T) {
	runner := &mockSyncRunner{}
	scheduler, err := NewIntervalScheduler(Config{StartupDelay: 150 * time.Millisecond, Interval: time.Hour}, runner)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	started := time.Now()
	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	if !scheduler.Status().Running {
		t.Error("Scheduler should be running")
	}

	time.Sleep(50 * time.Millisecond)
	if starts, _ := runner.runs(); len(starts) != 0 {
		t.Fatalf("Run happened before startup delay elapsed")
	}

	time.Sleep(250 * time.Millisecond)
	starts, _ := runner.runs()
	if len(starts) != 1 {
		t.Fatalf("Expected exactly 1 run, got %d", len(starts))
	}
	if gap := starts[0].Sub(started); gap < 150*time.Millisecond {
		t.Errorf("First run after %v, want >= 150ms", gap)
	}
}

func TestIntervalScheduler_IntervalFromCompletion(t *testing.T) {
	runner := &mockSyncRunner{delay: 100 * time.Millisecond}
	scheduler, err := NewIntervalScheduler(Config{Interval: 50 * time.Millisecond}, runner)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if err := scheduler.Stop(); err != nil {
		t.Fatalf("Failed to stop scheduler: %v", err)
	}

	starts, ends := runner.runs()
	if len(starts) < 2 {
		t.Fatalf("Expected at least 2 runs, got %d", len(starts))
	}
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(ends[i-1]); gap < 50*time.Millisecond {
			t.Errorf("Run %d started %v after previous completion, want >= 50ms", i, gap)
		}
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.overlap {
		t.Error("Runs overlapped")
	}
}

func TestIntervalScheduler_Stop(t *testing.T) {
	runner := &mockSyncRunner{}
	scheduler, err := NewIntervalScheduler(Config{Interval: 50 * time.Millisecond}, runner)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}

	time.Sleep(120 * time.Millisecond)

	if err := scheduler.Stop(); err != nil {
		t.Fatalf("Failed to stop scheduler: %v", err)
	}
	if scheduler.Status().Running {
		t.Error("Scheduler should not be running after stop")
	}

	select {
	case <-scheduler.Done():
	default:
		t.Error("Done channel should be closed after stop")
	}

	if err := scheduler.Start(context.Background()); err == nil {
		t.Error("Expected error when restarting a stopped scheduler")
	}
}

func TestIntervalScheduler_StopCancelsRunningCycle(t *testing.T) {
	runner := &mockSyncRunner{delay: time.Hour}
	scheduler, err := NewIntervalScheduler(Config{Interval: time.Second}, runner)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	if err := scheduler.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a cycle was running")
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if !runner.cancelled {
		t.Error("Running cycle should observe cancellation")
	}
}

func TestIntervalScheduler_DoubleStart(t *testing.T) {
	runner := &mockSyncRunner{}
	scheduler, err := NewIntervalScheduler(Config{StartupDelay: time.Second, Interval: time.Second}, runner)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx := context.Background()
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	if err := scheduler.Start(ctx); err == nil {
		t.Error("Expected error when starting already running scheduler")
	}
}

func TestIntervalScheduler_StopNotRunning(t *testing.T) {
	scheduler, err := NewIntervalScheduler(Config{Interval: time.Second}, &mockSyncRunner{})
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	if err := scheduler.Stop(); err == nil {
		t.Error("Expected error when stopping non-running scheduler")
	}
}

func TestIntervalScheduler_ContextCancellation(t *testing.T) {
	runner := &mockSyncRunner{}
	scheduler, err := NewIntervalScheduler(Config{Interval: 50 * time.Millisecond}, runner)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-scheduler.Done():
	case <-time.After(time.Second):
		t.Fatal("Scheduler did not stop after context cancellation")
	}

	if scheduler.Status().Running {
		t.Error("Scheduler should stop when context is cancelled")
	}
}

func TestIntervalScheduler_ErrorHandling(t *testing.T) {
	runner := &mockSyncRunner{shouldErr: true}
	scheduler, err := NewIntervalScheduler(Config{Interval: 30 * time.Millisecond}, runner)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	status := scheduler.Status()
	if status.FailedRuns < 2 {
		t.Errorf("Expected failed runs to keep the loop going, got %d", status.FailedRuns)
	}
	if status.LastError != "tracker unavailable" {
		t.Errorf("LastError = %q", status.LastError)
	}
	if status.SuccessfulRuns != 0 {
		t.Errorf("SuccessfulRuns = %d, want 0", status.SuccessfulRuns)
	}
}

func TestIntervalScheduler_Statistics(t *testing.T) {
	runner := &mockSyncRunner{}
	scheduler, err := NewIntervalScheduler(Config{Interval: 50 * time.Millisecond}, runner)
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("Failed to start scheduler: %v", err)
	}

	time.Sleep(130 * time.Millisecond)

	status := scheduler.Status()
	if status.TotalRuns == 0 {
		t.Error("Expected total runs > 0")
	}
	if status.SuccessfulRuns == 0 {
		t.Error("Expected successful runs > 0")
	}
	if time.Since(status.LastRunTime) > 200*time.Millisecond {
		t.Error("Last run time seems too old")
	}
	if status.NextRunTime.IsZero() {
		t.Error("Next run time should be set between runs")
	}
}

func TestIntervalScheduler_SetPhase(t *testing.T) {
	scheduler, err := NewIntervalScheduler(Config{Interval: time.Second}, &mockSyncRunner{})
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}

	scheduler.SetPhase(domain.PhaseFetching)
	if phase := scheduler.Status().Phase; phase != domain.PhaseFetching {
		t.Errorf("Phase = %q, want fetching", phase)
	}
}

func TestSyncRunnerFunc(t *testing.T) {
	called := false
	var runner SyncRunner = SyncRunnerFunc(func(ctx context.Context) error {
		called = true
		return nil
	})

	if err := runner.RunSync(context.Background()); err != nil {
		t.Fatalf("RunSync returned %v", err)
	}
	if !called {
		t.Error("function not called")
	}
}
