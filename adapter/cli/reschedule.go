package cli

import (
	"github.com/spf13/cobra"
)

var rescheduleFlags intentFlags

var rescheduleCmd = &cobra.Command{
	Use:   "reschedule <job-id>",
	Short: "Move a job to a new window and optionally reconcile its crew",
	Long: `Move an existing job to the window computed from the intent and verify
that the FSM kept it.

Without --crew, --user or --clear-crew the assignment is left as it is.
--clear-crew unassigns everyone.

Examples:
  fieldsync reschedule job-42 -k survey -d 2025-03-11 --start 13:00
  fieldsync reschedule job-42 -k construction -d 2025-03-11 --days 3 --crew "Ann Lee" --crew "Bo Park"
  fieldsync reschedule job-42 -k inspection -d 2025-03-14 --clear-crew`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		outcome, err := a.Engine.Reschedule(ctx, rescheduleFlags.intent(args[0]))
		if err != nil {
			return err
		}
		a.flush(ctx)
		return printOutcome(cmd.OutOrStdout(), outcome)
	},
}

func init() {
	rescheduleFlags.register(rescheduleCmd)
	rescheduleCmd.Flags().BoolVar(&rescheduleFlags.clearCrew, "clear-crew", false, "unassign every crew member")
	rescheduleCmd.MarkFlagsMutuallyExclusive("clear-crew", "crew")
	rescheduleCmd.MarkFlagsMutuallyExclusive("clear-crew", "user")
	rootCmd.AddCommand(rescheduleCmd)
}
