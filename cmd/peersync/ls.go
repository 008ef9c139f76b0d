package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/peersync/internal/adapter/local"
	"github.com/Ning0612/peersync/internal/progress"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the files this node would advertise",
	RunE:  listFiles,
}

func listFiles(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	adp, err := local.New(cfg.Node.Root)
	if err != nil {
		return err
	}
	defer adp.Close()

	files, err := adp.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(files) == 0 {
		fmt.Fprintf(out, "No syncable files in %s\n", adp.Root())
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMTIME")
	var total int64
	for _, f := range files.Sorted() {
		total += f.Size
		fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, progress.FormatBytes(f.Size), f.Time().Format(time.RFC3339))
	}
	w.Flush()
	fmt.Fprintf(out, "%d files, %s\n", len(files), progress.FormatBytes(total))
	return nil
}
