package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Ning0612/peersync/internal/adapter"
	"github.com/Ning0612/peersync/internal/core/planner"
	"github.com/Ning0612/peersync/internal/domain"
	"github.com/Ning0612/peersync/internal/logger"
	"github.com/Ning0612/peersync/internal/metrics"
	"github.com/Ning0612/peersync/internal/progress"
)

// Tracker exchanges the local inventory for the network manifest
type Tracker interface {
	Exchange(ctx context.Context, port int, files domain.LocalManifest) (domain.RemoteManifest, domain.CycleKind, error)
}

// Fetcher streams one file from a peer
type Fetcher interface {
	FetchTo(ctx context.Context, name, host string, port int, w io.Writer) (int64, error)
}

// Recorder persists finished cycles
type Recorder interface {
	SaveCycle(result *domain.CycleResult) (int64, error)
}

// SyncOptions wires a SyncService
type SyncOptions struct {
	Adapter     adapter.Adapter
	Tracker     Tracker
	Fetcher     Fetcher
	Planner     planner.Planner // defaults to mtime planning without ignores
	Recorder    Recorder        // optional
	ListenPort  int
	Concurrency int
}

// SyncService runs sync cycles: tracker exchange, diff, fetch, atomic write
type SyncService struct {
	adapter     adapter.Adapter
	tracker     Tracker
	fetcher     Fetcher
	planner     planner.Planner
	recorder    Recorder
	port        int
	concurrency int
	log         logger.Logger

	mu       sync.Mutex
	running  bool
	reporter progress.Reporter
	onPhase  func(domain.SyncPhase)
	last     *domain.CycleResult
}

// NewSyncService creates a sync service
func NewSyncService(opts SyncOptions) (*SyncService, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("adapter cannot be nil")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("tracker cannot be nil")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if opts.ListenPort < 0 || opts.ListenPort > 65535 {
		return nil, fmt.Errorf("listen port out of range: %d", opts.ListenPort)
	}
	if opts.Planner == nil {
		opts.Planner = planner.NewDefaultPlanner(nil)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	return &SyncService{
		adapter:     opts.Adapter,
		tracker:     opts.Tracker,
		fetcher:     opts.Fetcher,
		planner:     opts.Planner,
		recorder:    opts.Recorder,
		port:        opts.ListenPort,
		concurrency: opts.Concurrency,
		log:         logger.With("component", "sync"),
	}, nil
}

// SetProgressReporter sets the progress reporter for fetches
func (s *SyncService) SetProgressReporter(reporter progress.Reporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reporter = reporter
}

// OnPhase registers a callback invoked on every phase change
func (s *SyncService) OnPhase(fn func(domain.SyncPhase)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPhase = fn
}

// LastCycle returns the result of the most recent cycle, or nil
func (s *SyncService) LastCycle() *domain.CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *SyncService) setPhase(phase domain.SyncPhase) {
	s.mu.Lock()
	fn := s.onPhase
	s.mu.Unlock()
	if fn != nil {
		fn(phase)
	}
}

func (s *SyncService) getReporter() progress.Reporter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reporter != nil {
		return s.reporter
	}
	return progress.NullReporter{}
}

// RunSync runs one cycle, records it and reports failure as an error.
// It implements scheduler.SyncRunner.
func (s *SyncService) RunSync(ctx context.Context) error {
	result, err := s.RunCycle(ctx)
	if err != nil {
		return err
	}

	if s.recorder != nil {
		if _, err := s.recorder.SaveCycle(result); err != nil {
			s.log.Error("failed to record cycle", "error", err)
		}
	}

	switch result.Status() {
	case domain.CycleSuccess:
		return nil
	case domain.CyclePartial:
		return fmt.Errorf("%d of %d fetches failed", result.Failed(), len(result.Fetches))
	default:
		if result.Err != nil {
			return result.Err
		}
		return fmt.Errorf("all %d fetches failed", result.Failed())
	}
}

// RunCycle performs one sync cycle. The returned error is only set when
// a cycle is already running; every other failure is in the result.
func (s *SyncService) RunCycle(ctx context.Context) (*domain.CycleResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, domain.ErrSyncInProgress
	}
	s.running = true
	s.mu.Unlock()

	result := &domain.CycleResult{Kind: domain.CycleHeartbeat, Started: time.Now()}
	defer func() {
		result.Finished = time.Now()
		s.setPhase(domain.PhaseIdle)
		metrics.RecordCycle(string(result.Kind), string(result.Status()), result.Finished.Sub(result.Started))

		s.mu.Lock()
		s.running = false
		s.last = result
		s.mu.Unlock()
	}()

	s.setPhase(domain.PhaseRegistering)
	files, err := s.adapter.List(ctx)
	if err != nil {
		result.Err = fmt.Errorf("list local files: %w", err)
		s.log.Error("failed to list local files", "root", s.adapter.Root(), "error", err)
		return result, nil
	}

	s.setPhase(domain.PhaseAwaitingManifest)
	manifest, kind, err := s.tracker.Exchange(ctx, s.port, files)
	result.Kind = kind
	if err != nil {
		result.Err = err
		s.log.Error("tracker exchange failed", "message", kind, "error", err)
		return result, nil
	}

	s.setPhase(domain.PhaseDiffing)
	plan := s.planner.Plan(files, manifest)
	result.Plan = plan
	metrics.SetPlannedActions(plan.Stats.NewFiles, plan.Stats.StaleFiles)

	s.log.Debug("sync plan created",
		"message", kind,
		"remote_files", plan.Stats.RemoteFiles,
		"local_files", plan.Stats.LocalFiles,
		"new", plan.Stats.NewFiles,
		"stale", plan.Stats.StaleFiles,
		"up_to_date", plan.Stats.UpToDate,
		"skipped", plan.Stats.Skipped,
	)

	if len(plan.Actions) == 0 {
		return result, nil
	}

	s.setPhase(domain.PhaseFetching)
	result.Fetches = s.fetchAll(ctx, plan.Actions)

	s.log.Info("sync cycle complete",
		"message", kind,
		"fetched", result.Fetched(),
		"failed", result.Failed(),
		"bytes", progress.FormatBytes(result.Bytes()),
		"duration", time.Since(result.Started),
	)
	return result, nil
}

// fetchAll runs the actions on a bounded pool; results are ordered by name
func (s *SyncService) fetchAll(ctx context.Context, actions []domain.FetchAction) []domain.FetchResult {
	reporter := s.getReporter()
	reporter.SetTotal(len(actions))

	p := pool.NewWithResults[domain.FetchResult]().WithMaxGoroutines(s.concurrency)
	for _, action := range actions {
		action := action
		p.Go(func() domain.FetchResult {
			return s.fetchOne(ctx, action, reporter)
		})
	}

	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Action.Name < results[j].Action.Name })
	return results
}

// fetchOne streams one file from its peer into the atomic write path.
// A failed fetch leaves the local copy untouched.
func (s *SyncService) fetchOne(ctx context.Context, action domain.FetchAction, reporter progress.Reporter) domain.FetchResult {
	result := domain.FetchResult{Action: action}
	if ctx.Err() != nil {
		result.Err = ctx.Err()
		reporter.Error(action.Name, result.Err)
		metrics.RecordFetch(0, false)
		return result
	}

	reporter.Start(action.Name, action.PeerAddr())

	pr, pw := io.Pipe()
	fetchErr := make(chan error, 1)
	go func() {
		_, err := s.fetcher.FetchTo(ctx, action.Name, action.PeerHost, action.PeerPort,
			progress.NewProgressWriter(pw, action.Name, reporter))
		pw.CloseWithError(err)
		fetchErr <- err
	}()

	written, writeErr := s.adapter.Write(ctx, action.Name, pr, action.ModTime)
	pr.CloseWithError(writeErr)

	// A fetch failure reaches Write through the pipe unchanged; anything
	// else Write returns is a local failure.
	err := <-fetchErr
	switch {
	case writeErr != nil && (err == nil || !errors.Is(writeErr, err)):
		result.Err = fmt.Errorf("write %s: %w", action.Name, writeErr)
	case err != nil:
		result.Err = fmt.Errorf("fetch %s from %s: %w", action.Name, action.PeerAddr(), err)
	}
	result.Bytes = written

	metrics.RecordFetch(written, result.Err == nil)
	if result.Err != nil {
		reporter.Error(action.Name, result.Err)
		return result
	}
	reporter.Complete(action.Name, written)
	return result
}
