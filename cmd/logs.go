package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/fixpoint-repair/buyback/internal/model"
	"github.com/fixpoint-repair/buyback/internal/store"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List recent ingestion and recalculation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		source, _ := cmd.Flags().GetString("source")
		limit, _ := cmd.Flags().GetInt("limit")
		since, _ := cmd.Flags().GetDuration("since")

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		filter := store.LogFilter{Source: source, Limit: limit}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}
		logs, err := env.Store.ListUpdateLogs(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "logs")
		}
		if len(logs) == 0 {
			fmt.Fprintln(os.Stderr, "No update logs found.")
			return nil
		}

		formatLogs(os.Stdout, logs)
		return nil
	},
}

// formatLogs writes a tabular list of update logs to out. Only the first
// error line of each entry is shown.
func formatLogs(out io.Writer, logs []model.PricingUpdateLog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CREATED\tSOURCE\tSTATUS\tADDED\tUPDATED\tERRORS")
	for _, l := range logs {
		errs := "-"
		if l.Errors != "" {
			lines := strings.Split(l.Errors, "\n")
			errs = truncate(lines[0], 60)
			if len(lines) > 1 {
				errs += fmt.Sprintf(" (+%d more)", len(lines)-1)
			}
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			l.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			l.Source, l.Status, l.RowsAdded, l.RowsUpdated, errs,
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	logsCmd.Flags().String("source", "", "filter by source label (e.g. atlas, recalculation)")
	logsCmd.Flags().Int("limit", 50, "max number of entries to display")
	logsCmd.Flags().Duration("since", 0, "only entries newer than this (e.g. 24h)")
	rootCmd.AddCommand(logsCmd)
}
