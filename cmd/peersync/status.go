package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/peersync/internal/daemon"
	"github.com/Ning0612/peersync/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a node is running and its recent cycles",
	RunE:  showStatus,
}

func showStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pf, err := pidFile(cfg)
	if err != nil {
		return err
	}

	info, err := pf.Read()
	switch {
	case errors.Is(err, daemon.ErrNotRunning):
		fmt.Fprintln(out, "Node:    not running")
	case err != nil:
		return err
	case !daemon.ProcessExists(info.PID):
		fmt.Fprintf(out, "Node:    not running (stale PID file for %d)\n", info.PID)
	default:
		fmt.Fprintf(out, "Node:    running (PID %d)\n", info.PID)
		fmt.Fprintf(out, "Port:    %d\n", info.Port)
		fmt.Fprintf(out, "Root:    %s\n", info.Root)
		fmt.Fprintf(out, "Uptime:  %s\n", time.Since(info.Started).Truncate(time.Second))
	}

	mgr, err := state.NewManager(cfg.Node.StateDir)
	if err != nil {
		return err
	}
	defer mgr.Close()

	last, err := mgr.GetLastSuccess()
	if err != nil {
		return err
	}
	if last != nil {
		fmt.Fprintf(out, "Last OK: %s (%d fetched)\n", last.EndTime.Format(time.RFC3339), last.Fetched)
	}

	history, err := mgr.GetHistory(5)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(out, "\nNo cycles recorded")
		return nil
	}

	fmt.Fprintln(out)
	printCycles(out, history)
	return nil
}
