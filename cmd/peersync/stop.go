package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/peersync/internal/daemon"
)

var stopWait time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the node recorded in the PID file",
	RunE:  stopNode,
}

func init() {
	stopCmd.Flags().DurationVar(&stopWait, "wait", 15*time.Second, "how long to wait for the node to exit")
}

func stopNode(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	pf, err := pidFile(cfg)
	if err != nil {
		return err
	}

	info, err := pf.Read()
	if err != nil {
		return err
	}

	if err := pf.Stop(); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			fmt.Fprintln(cmd.OutOrStdout(), "Node is not running (stale PID file removed)")
			return nil
		}
		return err
	}

	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		if !daemon.ProcessExists(info.PID) {
			fmt.Fprintf(cmd.OutOrStdout(), "Node stopped (PID %d)\n", info.PID)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("node (PID %d) did not exit within %v", info.PID, stopWait)
}
