package cli

import (
	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/spf13/cobra"
)

// intentFlags collects the schedule intent shared by schedule and reschedule.
type intentFlags struct {
	title     string
	category  string
	date      string
	startTime string
	endTime   string
	days      float64
	timezone  string
	crew      []string
	users     []string
	teamID    string
	teamName  string
	clearCrew bool
}

func (f *intentFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.category, "category", "k", "", "schedule category (survey, construction, inspection)")
	flags.StringVarP(&f.date, "date", "d", "", "local start date (YYYY-MM-DD)")
	flags.StringVar(&f.startTime, "start", "", "local start time (HH:MM)")
	flags.StringVar(&f.endTime, "end", "", "local end time (HH:MM)")
	flags.Float64Var(&f.days, "days", 0, "duration in business days, may be fractional")
	flags.StringVar(&f.timezone, "tz", "", "IANA timezone or US abbreviation")
	flags.StringArrayVar(&f.crew, "crew", nil, "crew member display name (repeatable)")
	flags.StringArrayVar(&f.users, "user", nil, "FSM user id (repeatable)")
	flags.StringVar(&f.teamID, "team-id", "", "FSM team id used for assignment")
	flags.StringVar(&f.teamName, "team", "", "team display name used for assignment")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("date")
}

func (f *intentFlags) intent(jobID string) domain.ScheduleIntent {
	intent := domain.ScheduleIntent{
		JobID:        jobID,
		Title:        f.title,
		Category:     domain.Category(f.category),
		Date:         f.date,
		StartTime:    f.startTime,
		EndTime:      f.endTime,
		DurationDays: f.days,
		Timezone:     f.timezone,
		TeamID:       f.teamID,
		TeamName:     f.teamName,
	}
	if category, ok := domain.ParseCategory(f.category); ok {
		intent.Category = category
	}
	if len(f.crew) > 0 {
		intent.CrewNames = f.crew
	}
	if len(f.users) > 0 {
		intent.UserIDs = f.users
	}
	if f.clearCrew {
		intent.CrewNames = nil
		intent.UserIDs = []string{}
	}
	return intent
}

func requireApp() (*App, error) {
	a := GetApp()
	if a == nil || a.Engine == nil {
		return nil, errors.New("application not initialized - check FSM and database configuration")
	}
	return a, nil
}

var scheduleFlags intentFlags

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Create a job in the FSM with its crew assigned",
	Long: `Create a job for a locally scheduled piece of work, assign its crew
and verify the assignment by re-reading the job.

Examples:
  fieldsync schedule -k survey -d 2025-03-10 --start 09:00 --days 0.25 --crew "Ann Lee"
  fieldsync schedule -k construction -d 2025-03-10 --days 2.5 --team "Crew A" --crew "Bo Park"
  fieldsync schedule -k inspection -d 2025-03-12 --user u-123 --team-id t-9`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := requireApp()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		outcome, err := a.Engine.Create(ctx, scheduleFlags.intent(""))
		if err != nil {
			return err
		}
		a.flush(ctx)
		return printOutcome(cmd.OutOrStdout(), outcome)
	},
}

func init() {
	scheduleFlags.register(scheduleCmd)
	scheduleCmd.Flags().StringVarP(&scheduleFlags.title, "title", "t", "", "job title (defaults to the category)")
	rootCmd.AddCommand(scheduleCmd)
}
