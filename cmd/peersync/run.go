package main

import (
	"github.com/spf13/cobra"

	"github.com/Ning0612/peersync/internal/logger"
	"github.com/Ning0612/peersync/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a node in the foreground",
	Long: `Bind the peer port, lock the root directory and start syncing.

The node registers with the tracker after the startup delay and runs a
cycle every interval until interrupted.`,
	RunE: runNode,
}

func init() {
	flags := runCmd.Flags()
	flags.String("tracker-host", "", "tracker IPv4 address")
	flags.Int("tracker-port", 0, "tracker port")
	flags.String("host", "", "interface the peer server binds to")
	flags.Int("port", 0, "first peer port to try")
	flags.String("framing", "", "peer response format (framed or raw)")
	flags.String("metrics-listen", "", "serve Prometheus metrics on this address")

	bindFlag(flags, "tracker-host", "tracker.host")
	bindFlag(flags, "tracker-port", "tracker.port")
	bindFlag(flags, "host", "node.host")
	bindFlag(flags, "port", "node.base_port")
	bindFlag(flags, "framing", "peer.framing")
	bindFlag(flags, "metrics-listen", "metrics.listen")
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	cleanup, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	pf, err := pidFile(cfg)
	if err != nil {
		return err
	}
	cfg.Node.PIDFile = pf.Path()

	node, err := service.NewNode(cfg)
	if err != nil {
		logger.Get().Error("failed to start node", "error", err)
		return err
	}
	defer node.Close()

	ctx, stop := signalContext()
	defer stop()

	return node.Run(ctx)
}
