package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>...",
	Short: "Resolve crew display names to FSM user ids",
	Long: `Look names up in the cached FSM directory. Matching ignores case and
extra whitespace. Names in the reserved team are never matched.

Examples:
  fieldsync resolve "Ann Lee" "bo park"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}

		res := a.Engine.ResolveCrew(cmd.Context(), args)
		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, map[string]any{
				"user_ids": res.UserIDs,
				"team_id":  res.TeamID,
				"missing":  res.Missing,
			})
		}

		fmt.Fprintf(out, "Resolved %d of %d names\n", len(res.UserIDs), len(args))
		for _, id := range res.UserIDs {
			fmt.Fprintf(out, "  user: %s\n", id)
		}
		if res.TeamID != "" {
			fmt.Fprintf(out, "  team: %s\n", res.TeamID)
		}
		for _, name := range res.Missing {
			fmt.Fprintf(out, "  not found: %s\n", name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
