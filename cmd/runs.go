package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geo-catalog/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List ingest run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "runs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListRuns(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs")
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No runs found.")
			return nil
		}
		formatRunsList(out, runs)
		return nil
	},
}

func init() {
	runsCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsCmd.Flags().Bool("json", false, "print full run records as JSON")
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w, newest first as given.
func formatRunsList(out io.Writer, runs []model.IngestRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tSOURCES\tREAD\tWRITTEN\tCLEARED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t--------\t-------\t----\t-------\t-------\t-----")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		t := r.Totals()
		ok := len(r.Sources) - r.FailedSources()

		errText := r.Error
		if len(errText) > 40 {
			errText = errText[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%d\t%t\t%s\n",
			truncateID(r.ID),
			r.Status,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			ok, len(r.Sources),
			t.Read,
			t.Written,
			r.Cleared,
			errText,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
