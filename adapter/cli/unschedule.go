package cli

import (
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/application/services"
	"github.com/spf13/cobra"
)

var transitionStatus bool

var unscheduleCmd = &cobra.Command{
	Use:   "unschedule <job-id>",
	Short: "Clear a job's crew and schedule window",
	Long: `Unassign every crew member, clear the schedule window and verify that
the job reads back unscheduled. With --transition the job then moves to its
category's ready status.

Examples:
  fieldsync unschedule job-42
  fieldsync unschedule job-42 --transition`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		outcome, err := a.Engine.Unschedule(ctx, services.UnscheduleRequest{
			JobID:            args[0],
			TransitionStatus: transitionStatus,
		})
		if err != nil {
			return err
		}
		a.flush(ctx)
		return printOutcome(cmd.OutOrStdout(), outcome)
	},
}

func init() {
	unscheduleCmd.Flags().BoolVar(&transitionStatus, "transition", false, "move the job to its ready status once cleared")
	rootCmd.AddCommand(unscheduleCmd)
}
