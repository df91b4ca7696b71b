package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/opgate/opgate/internal/config"
	"github.com/opgate/opgate/internal/history"
)

var (
	historyOp    string
	historyLimit int
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyOp, "operation", "", "Only show this operation")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent request dispositions",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Audit.HistoryDB == "" {
		return fmt.Errorf("history: no history database configured")
	}

	store, err := history.Open(cfg.Audit.HistoryDB)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(context.Background(), historyOp, historyLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no requests recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tOPERATION\tSTATUS\tEXIT\tELAPSED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%dms\n",
			humanize.Time(e.Timestamp), e.Operation, e.Status, e.ExitCode, e.ElapsedMs)
	}
	return w.Flush()
}
