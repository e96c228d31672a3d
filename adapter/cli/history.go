package cli

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <job-id>",
	Short: "Show recorded sync outcomes for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}

		records, err := a.Engine.History(cmd.Context(), args[0], historyLimit)
		if err != nil {
			return errors.Wrap(err, "failed to load sync history")
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, records)
		}
		if len(records) == 0 {
			fmt.Fprintf(out, "No sync history for job %s.\n", args[0])
			return nil
		}

		fmt.Fprintf(out, "Sync history for job %s (%d):\n\n", args[0], len(records))
		for _, r := range records {
			status := "ok"
			if !r.Success {
				status = "FAILED"
			}
			fmt.Fprintf(out, "  %s  %-10s  %-6s", r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Operation, status)
			if r.Strategy != "" {
				fmt.Fprintf(out, "  via %s", r.Strategy)
			}
			fmt.Fprintln(out)
			if r.Error != "" {
				fmt.Fprintf(out, "      %s\n", r.Error)
			}
			if len(r.Missing) > 0 {
				fmt.Fprintf(out, "      missing: %s\n", strings.Join(r.Missing, ", "))
			}
			if len(r.Stale) > 0 {
				fmt.Fprintf(out, "      unexpected: %s\n", strings.Join(r.Stale, ", "))
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum records to show")
	rootCmd.AddCommand(historyCmd)
}
