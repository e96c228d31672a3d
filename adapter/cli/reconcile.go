package cli

import (
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/application/services"
	"github.com/spf13/cobra"
)

var (
	reconcileUsers []string
	reconcileTeam  string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile <job-id>",
	Short: "Make a job's assigned users match the desired set",
	Long: `Compute the difference between the job's current assignment and the
desired users, apply it and verify by re-reading the job. No --user means
the job should end up fully unassigned.

Examples:
  fieldsync reconcile job-42 --user u-1 --user u-2 --team-id t-9
  fieldsync reconcile job-42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		outcome, err := a.Engine.Reconcile(ctx, services.ReconcileRequest{
			JobID:          args[0],
			DesiredUserIDs: reconcileUsers,
			TeamID:         reconcileTeam,
		})
		if err != nil {
			return err
		}
		a.flush(ctx)
		return printOutcome(cmd.OutOrStdout(), outcome)
	},
}

func init() {
	reconcileCmd.Flags().StringArrayVar(&reconcileUsers, "user", nil, "desired FSM user id (repeatable)")
	reconcileCmd.Flags().StringVar(&reconcileTeam, "team-id", "", "FSM team id used for assignment")
	rootCmd.AddCommand(reconcileCmd)
}
