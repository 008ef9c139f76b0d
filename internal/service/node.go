package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Ning0612/peersync/internal/adapter/local"
	"github.com/Ning0612/peersync/internal/config"
	"github.com/Ning0612/peersync/internal/core/planner"
	"github.com/Ning0612/peersync/internal/daemon"
	"github.com/Ning0612/peersync/internal/lock"
	"github.com/Ning0612/peersync/internal/logger"
	"github.com/Ning0612/peersync/internal/metrics"
	"github.com/Ning0612/peersync/internal/peer"
	"github.com/Ning0612/peersync/internal/progress"
	"github.com/Ning0612/peersync/internal/retry"
	"github.com/Ning0612/peersync/internal/scheduler"
	"github.com/Ning0612/peersync/internal/state"
	"github.com/Ning0612/peersync/internal/tracker"
)

// shutdownTimeout bounds how long in-flight transfers may drain on exit
const shutdownTimeout = 10 * time.Second

// Node owns everything a running peer needs: the root directory, the
// peer server, the tracker session and the sync schedule.
type Node struct {
	mu        sync.RWMutex
	config    *config.Config
	adapter   *local.Adapter
	dirLock   *lock.DirLock
	listener  net.Listener
	port      int
	server    *peer.Server
	session   *tracker.Session
	syncSvc   *SyncService
	stateMgr  *state.Manager
	scheduler *scheduler.IntervalScheduler
	pidFile   *daemon.PIDFile
	log       logger.Logger
	running   bool
	closed    bool
}

// NodeStatus represents the current node status
type NodeStatus struct {
	Running        bool
	Port           int
	Root           string
	SchedulerStats *scheduler.Status
	LastCycle      *state.CycleRecord
}

// NewNode binds the peer port, locks the root and opens the history
// database. Nothing talks to the network until Run.
func NewNode(cfg *config.Config) (*Node, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.With("component", "node")

	framing, err := peer.ParseFraming(cfg.Peer.Framing)
	if err != nil {
		return nil, err
	}

	adp, err := local.New(cfg.Node.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to open root: %w", err)
	}
	if n, err := adp.CleanTemp(); err != nil {
		log.Warn("failed to clean leftover temp files", "root", adp.Root(), "error", err)
	} else if n > 0 {
		log.Info("removed leftover temp files", "count", n)
	}

	listener, port, err := peer.ListenFrom(cfg.Node.Host, cfg.Node.BasePort)
	if err != nil {
		return nil, err
	}

	dirLock, err := lock.NewDirLock(adp.Root())
	if err != nil {
		listener.Close()
		return nil, err
	}
	if err := dirLock.Acquire(port); err != nil {
		listener.Close()
		return nil, err
	}

	stateMgr, err := state.NewManager(cfg.Node.StateDir)
	if err != nil {
		dirLock.Release()
		listener.Close()
		return nil, fmt.Errorf("failed to create state manager: %w", err)
	}
	if cfg.Node.HistoryRetention > 0 {
		if n, err := stateMgr.Prune(time.Now().Add(-cfg.Node.HistoryRetention)); err != nil {
			log.Warn("failed to prune cycle history", "error", err)
		} else if n > 0 {
			log.Debug("pruned cycle history", "cycles", n)
		}
	}

	session := tracker.NewSession(tracker.SessionOptions{
		Addr:    cfg.TrackerAddr(),
		Timeout: cfg.Tracker.Timeout,
		Retry: retry.Policy{
			MaxAttempts: cfg.Tracker.Retry.MaxAttempts,
			InitialWait: cfg.Tracker.Retry.InitialWait,
			MaxWait:     cfg.Tracker.Retry.MaxWait,
			Multiplier:  cfg.Tracker.Retry.Multiplier,
			Jitter:      cfg.Tracker.Retry.Jitter,
		},
		ReregisterEveryCycle: cfg.Tracker.ReregisterEveryCycle,
	})

	client := peer.NewClient(peer.ClientOptions{
		Framing:     framing,
		Timeout:     cfg.Peer.Timeout,
		MaxFileSize: cfg.Peer.MaxFileSize,
	})

	syncSvc, err := NewSyncService(SyncOptions{
		Adapter:     adp,
		Tracker:     session,
		Fetcher:     client,
		Planner:     planner.NewDefaultPlanner(cfg.Sync.Ignore),
		Recorder:    stateMgr,
		ListenPort:  port,
		Concurrency: cfg.Sync.FetchConcurrency,
	})
	if err != nil {
		stateMgr.Close()
		dirLock.Release()
		listener.Close()
		return nil, fmt.Errorf("failed to create sync service: %w", err)
	}
	syncSvc.SetProgressReporter(progress.NewCallbackReporter(progress.NewLogReporter(log).Callback()))

	sched, err := scheduler.NewIntervalScheduler(scheduler.Config{
		StartupDelay: cfg.Sync.StartupDelay,
		Interval:     cfg.Sync.Interval,
	}, syncSvc)
	if err != nil {
		stateMgr.Close()
		dirLock.Release()
		listener.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	syncSvc.OnPhase(sched.SetPhase)

	n := &Node{
		config:    cfg,
		adapter:   adp,
		dirLock:   dirLock,
		listener:  listener,
		port:      port,
		server:    peer.NewServer(adp, peer.ServerOptions{Framing: framing, Timeout: cfg.Peer.Timeout, MaxConnections: cfg.Peer.MaxConnections}),
		session:   session,
		syncSvc:   syncSvc,
		stateMgr:  stateMgr,
		scheduler: sched,
		log:       log.With("port", port),
	}
	if cfg.Node.PIDFile != "" {
		n.pidFile = daemon.NewPIDFile(cfg.Node.PIDFile)
	}
	return n, nil
}

// Port returns the bound peer port
func (n *Node) Port() int {
	return n.port
}

// Addr returns the peer listener address
func (n *Node) Addr() net.Addr {
	return n.listener.Addr()
}

// SyncService exposes the node's cycle runner
func (n *Node) SyncService() *SyncService {
	return n.syncSvc
}

// History returns the node's cycle history store
func (n *Node) History() *state.Manager {
	return n.stateMgr
}

// Run serves peers and runs the sync schedule until ctx is cancelled or
// the peer listener fails. It shuts everything down before returning.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return fmt.Errorf("node is closed")
	}
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("node is already running")
	}
	n.running = true
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		n.running = false
		n.mu.Unlock()
	}()

	if n.pidFile != nil {
		if err := n.pidFile.Write(n.port, n.adapter.Root()); err != nil {
			return err
		}
		defer n.pidFile.Remove()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- n.server.Serve(n.listener)
	}()

	var metricsSrv *http.Server
	if addr := n.config.Metrics.Listen; addr != "" {
		metricsSrv = &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.log.Error("metrics server failed", "listen", addr, "error", err)
			}
		}()
	}

	if err := n.scheduler.Start(ctx); err != nil {
		n.server.Close()
		return err
	}

	n.log.Info("node started",
		"root", n.adapter.Root(),
		"tracker", n.config.TrackerAddr(),
		"interval", n.config.Sync.Interval,
	)

	var runErr error
	select {
	case <-ctx.Done():
		n.log.Info("shutting down")
	case err := <-serveErr:
		if !peer.IsClosed(err) {
			runErr = fmt.Errorf("peer server: %w", err)
		}
	}

	n.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := n.server.Shutdown(shutdownCtx); err != nil {
		n.log.Warn("peer server did not drain", "error", err)
	}
	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}

	n.log.Info("node stopped")
	return runErr
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Status returns the current node status
func (n *Node) Status() *NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()

	status := &NodeStatus{
		Running:        n.running,
		Port:           n.port,
		Root:           n.adapter.Root(),
		SchedulerStats: n.scheduler.Status(),
	}
	if history, err := n.stateMgr.GetHistory(1); err == nil && len(history) > 0 {
		status.LastCycle = &history[0]
	}
	return status
}

// Close releases the tracker connection, the database and the root lock.
// Close after Run has returned.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	var errs []error
	n.scheduler.Stop()
	if err := n.server.Close(); err != nil && !peer.IsClosed(err) {
		errs = append(errs, fmt.Errorf("close peer server: %w", err))
	}
	n.listener.Close()
	if err := n.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tracker session: %w", err))
	}
	if err := n.stateMgr.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close state manager: %w", err))
	}
	if err := n.dirLock.Release(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}
	if err := n.adapter.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ scheduler.SyncRunner = (*SyncService)(nil)
