package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var windowFlags intentFlags

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "Compute the UTC schedule window for an intent without calling the FSM",
	Long: `Print the window the FSM would receive for a schedule intent.

Examples:
  fieldsync window -k survey -d 2025-03-10 --days 0.25
  fieldsync window -k construction -d 2025-03-14 --days 2.5 --tz MST`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}

		win, err := a.Engine.ComputeWindow(windowFlags.intent(""))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, map[string]any{
				"start":         win.StartString(),
				"end":           win.EndString(),
				"timezone":      win.Location.String(),
				"zone_fallback": win.ZoneFallback,
			})
		}

		fmt.Fprintf(out, "Start: %s\n", win.StartString())
		fmt.Fprintf(out, "End:   %s\n", win.EndString())
		fmt.Fprintf(out, "Zone:  %s", win.Location)
		if win.ZoneFallback {
			fmt.Fprint(out, " (abbreviation fallback)")
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	windowFlags.register(windowCmd)
	rootCmd.AddCommand(windowCmd)
}
