package main

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/peersync/internal/logger"
	"github.com/Ning0612/peersync/internal/tracker"
)

var (
	trackerListen      string
	trackerTTL         time.Duration
	trackerIdleTimeout time.Duration
)

var trackerCmd = &cobra.Command{
	Use:   "tracker",
	Short: "Run a tracker for a small network of nodes",
	Long: `Run an in-process tracker.

Nodes register their file lists and heartbeat; every message is answered
with the manifest naming the freshest copy of each file. Nodes that stay
silent longer than --ttl are dropped.`,
	RunE: runTracker,
}

func init() {
	flags := trackerCmd.Flags()
	flags.StringVar(&trackerListen, "listen", ":9000", "address to listen on")
	flags.DurationVar(&trackerTTL, "ttl", tracker.DefaultTTL, "drop nodes silent for longer than this (0 keeps them)")
	flags.DurationVar(&trackerIdleTimeout, "idle-timeout", 5*time.Minute, "close node connections idle for longer than this")
}

func runTracker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	log := logger.With("component", "tracker")

	l, err := net.Listen("tcp", trackerListen)
	if err != nil {
		return err
	}

	dir := tracker.NewDirectory(trackerTTL)
	srv := tracker.NewServer(dir, tracker.ServerOptions{IdleTimeout: trackerIdleTimeout})

	ctx, stop := signalContext()
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(l) }()

	log.Info("tracker listening", "addr", l.Addr().String(), "ttl", trackerTTL)

	// Manifest requests prune as well; the ticker covers a quiet network
	ticker := time.NewTicker(trackerPruneInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
			log.Info("tracker stopped")
			return nil
		case err := <-serveErr:
			if errors.Is(err, tracker.ErrServerClosed) {
				return nil
			}
			return err
		case <-ticker.C:
			if n := dir.Prune(); n > 0 {
				log.Info("pruned silent nodes", "count", n, "nodes", dir.Nodes())
			}
		}
	}
}

func trackerPruneInterval() time.Duration {
	if trackerTTL > 0 && trackerTTL < time.Minute {
		return trackerTTL
	}
	return time.Minute
}
