package cli

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database, broker and FSM health",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := GetApp()
		if a == nil || a.Health == nil {
			return errors.New("app not initialized")
		}

		health := a.Health.GetOverallHealth(cmd.Context())
		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := printJSON(out, health); err != nil {
				return err
			}
		} else {
			names := make([]string, 0, len(health.Checks))
			for name := range health.Checks {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Fprintf(out, "%s\n", health.Status)
			for _, name := range names {
				check := health.Checks[name]
				fmt.Fprintf(out, "  %-10s %-10s %s\n", name, check.Status, check.Message)
			}
		}

		if health.Status == observability.HealthStatusUnhealthy {
			return errors.New("unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
