package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/peersync/internal/domain"
	"github.com/Ning0612/peersync/internal/progress"
	"github.com/Ning0612/peersync/internal/state"
)

var (
	historyLimit  int
	historyFailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded sync cycles",
	RunE:  showHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of cycles to show")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "also list failed fetches of each cycle")
}

func showHistory(cmd *cobra.Command, args []string) error {
	if historyLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	mgr, err := state.NewManager(cfg.Node.StateDir)
	if err != nil {
		return err
	}
	defer mgr.Close()

	history, err := mgr.GetHistory(historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(history) == 0 {
		fmt.Fprintln(out, "No cycles recorded")
		return nil
	}
	printCycles(out, history)

	if !historyFailed {
		return nil
	}
	for _, c := range history {
		if c.Status == string(domain.CycleSuccess) {
			continue
		}
		failed, err := mgr.GetFailedFetches(c.ID)
		if err != nil {
			return err
		}
		for _, f := range failed {
			fmt.Fprintf(out, "  cycle %d: %s from %s: %s\n", c.ID, f.Name, f.Peer, f.Error)
		}
	}
	return nil
}

func printCycles(out io.Writer, cycles []state.CycleRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tKIND\tSTATUS\tFETCHED\tFAILED\tBYTES\tDURATION\tERROR")
	for _, c := range cycles {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			c.ID,
			c.StartTime.Format(time.DateTime),
			c.Kind,
			c.Status,
			c.Fetched,
			c.Failed,
			progress.FormatBytes(c.Bytes),
			c.Duration().Round(time.Millisecond),
			c.Error,
		)
	}
	w.Flush()
}
