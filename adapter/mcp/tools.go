package mcp

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/fieldsync/adapter/cli"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/application/services"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/mcp-go"
)

// ToolDependencies provides handlers and context for MCP tools.
type ToolDependencies struct {
	App *cli.App
}

// RegisterCLITools registers MCP tools that mirror CLI functionality.
func RegisterCLITools(srv *mcp.Server, deps ToolDependencies) error {
	if srv == nil {
		return errors.New("server is required")
	}
	if deps.App == nil {
		return errors.New("app is required")
	}

	if err := registerCoreTools(srv, deps); err != nil {
		return err
	}
	if err := registerJobTools(srv, deps); err != nil {
		return err
	}
	return registerCrewTools(srv, deps)
}

func registerCoreTools(srv *mcp.Server, deps ToolDependencies) error {
	app := deps.App

	srv.Tool("cli.health").
		Description("Check FSM, database and broker health").
		Handler(func(ctx context.Context, input struct{}) (map[string]any, error) {
			if app.Health == nil {
				return map[string]any{"status": "ok"}, nil
			}
			health := app.Health.GetOverallHealth(ctx)
			return map[string]any{
				"status": health.Status,
				"checks": health.Checks,
			}, nil
		})

	srv.Tool("cli.version").
		Description("Report the fieldsync build: version, commit, build date and Go version").
		Handler(func(ctx context.Context, input struct{}) (cli.BuildInfo, error) {
			return cli.Build(), nil
		})

	return nil
}

type intentInput struct {
	Category  string   `json:"category" jsonschema:"required"`
	Date      string   `json:"date" jsonschema:"required"`
	Title     string   `json:"title,omitempty"`
	Start     string   `json:"start,omitempty"`
	End       string   `json:"end,omitempty"`
	Days      float64  `json:"days,omitempty"`
	Timezone  string   `json:"timezone,omitempty"`
	Crew      []string `json:"crew,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty"`
	TeamID    string   `json:"team_id,omitempty"`
	Team      string   `json:"team,omitempty"`
	ClearCrew bool     `json:"clear_crew,omitempty"`
}

func (in intentInput) intent(jobID string) domain.ScheduleIntent {
	intent := domain.ScheduleIntent{
		JobID:        jobID,
		Title:        in.Title,
		Category:     domain.Category(in.Category),
		Date:         in.Date,
		StartTime:    in.Start,
		EndTime:      in.End,
		DurationDays: in.Days,
		Timezone:     in.Timezone,
		TeamID:       in.TeamID,
		TeamName:     in.Team,
	}
	if category, ok := domain.ParseCategory(in.Category); ok {
		intent.Category = category
	}
	if len(in.Crew) > 0 {
		intent.CrewNames = in.Crew
	}
	if len(in.UserIDs) > 0 {
		intent.UserIDs = in.UserIDs
	}
	if in.ClearCrew {
		intent.CrewNames = nil
		intent.UserIDs = []string{}
	}
	return intent
}

type rescheduleInput struct {
	JobID string `json:"job_id" jsonschema:"required"`
	intentInput
}

type unscheduleInput struct {
	JobID      string `json:"job_id" jsonschema:"required"`
	Transition bool   `json:"transition,omitempty"`
}

type reconcileInput struct {
	JobID   string   `json:"job_id" jsonschema:"required"`
	UserIDs []string `json:"user_ids"`
	TeamID  string   `json:"team_id,omitempty"`
}

type historyInput struct {
	JobID string `json:"job_id" jsonschema:"required"`
	Limit int    `json:"limit,omitempty"`
}

type outcomeResult struct {
	*domain.Outcome
	Warning string `json:"warning,omitempty"`
}

type windowResult struct {
	Start        string `json:"start"`
	End          string `json:"end"`
	Timezone     string `json:"timezone"`
	ZoneFallback bool   `json:"zone_fallback"`
}

func registerJobTools(srv *mcp.Server, deps ToolDependencies) error {
	app := deps.App

	srv.Tool("job.schedule").
		Description("Create an FSM job for local work and assign its crew").
		Handler(func(ctx context.Context, input intentInput) (*outcomeResult, error) {
			if app.Engine == nil {
				return nil, errors.New("job sync requires FSM configuration")
			}
			outcome, err := app.Engine.Create(ctx, input.intent(""))
			return finish(ctx, app, outcome, err)
		})

	srv.Tool("job.reschedule").
		Description("Move an FSM job to a new window, optionally replacing its crew").
		Handler(func(ctx context.Context, input rescheduleInput) (*outcomeResult, error) {
			if app.Engine == nil {
				return nil, errors.New("job sync requires FSM configuration")
			}
			outcome, err := app.Engine.Reschedule(ctx, input.intent(input.JobID))
			return finish(ctx, app, outcome, err)
		})

	srv.Tool("job.unschedule").
		Description("Clear an FSM job's schedule and verify it stuck").
		Handler(func(ctx context.Context, input unscheduleInput) (*outcomeResult, error) {
			if app.Engine == nil {
				return nil, errors.New("job sync requires FSM configuration")
			}
			outcome, err := app.Engine.Unschedule(ctx, services.UnscheduleRequest{
				JobID:            input.JobID,
				TransitionStatus: input.Transition,
			})
			return finish(ctx, app, outcome, err)
		})

	srv.Tool("job.reconcile").
		Description("Make an FSM job's assignees match the desired user ids").
		Handler(func(ctx context.Context, input reconcileInput) (*outcomeResult, error) {
			if app.Engine == nil {
				return nil, errors.New("job sync requires FSM configuration")
			}
			outcome, err := app.Engine.Reconcile(ctx, services.ReconcileRequest{
				JobID:          input.JobID,
				DesiredUserIDs: input.UserIDs,
				TeamID:         input.TeamID,
			})
			return finish(ctx, app, outcome, err)
		})

	srv.Tool("job.history").
		Description("List recent sync attempts for a job").
		Handler(func(ctx context.Context, input historyInput) ([]*domain.SyncRecord, error) {
			if app.Engine == nil {
				return nil, errors.New("job sync requires FSM configuration")
			}
			limit := input.Limit
			if limit <= 0 {
				limit = 20
			}
			return app.Engine.History(ctx, input.JobID, limit)
		})

	srv.Tool("window.compute").
		Description("Compute the UTC start and end an intent would be sent with").
		Handler(func(ctx context.Context, input intentInput) (*windowResult, error) {
			if app.Engine == nil {
				return nil, errors.New("job sync requires FSM configuration")
			}
			win, err := app.Engine.ComputeWindow(input.intent(""))
			if err != nil {
				return nil, err
			}
			return &windowResult{
				Start:        win.StartString(),
				End:          win.EndString(),
				Timezone:     win.Location.String(),
				ZoneFallback: win.ZoneFallback,
			}, nil
		})

	return nil
}

type resolveInput struct {
	Names []string `json:"names" jsonschema:"required"`
}

func registerCrewTools(srv *mcp.Server, deps ToolDependencies) error {
	app := deps.App

	srv.Tool("crew.resolve").
		Description("Resolve crew display names to FSM user ids").
		Handler(func(ctx context.Context, input resolveInput) (domain.CrewResolution, error) {
			if app.Engine == nil {
				return domain.CrewResolution{}, errors.New("crew lookup requires FSM configuration")
			}
			if len(input.Names) == 0 {
				return domain.CrewResolution{}, errors.New("at least one name is required")
			}
			return app.Engine.ResolveCrew(ctx, input.Names), nil
		})

	return nil
}

// finish flushes pending events and reports the outcome. Soft failures come
// back as results carrying a warning; hard failures are tool errors.
func finish(ctx context.Context, app *cli.App, outcome *domain.Outcome, err error) (*outcomeResult, error) {
	if err != nil {
		return nil, err
	}
	if app.Events != nil {
		_ = app.Events.FlushEvents(ctx)
	}
	if !outcome.Success && !outcome.SoftFailure() {
		return nil, errors.New(outcome.Error)
	}
	return &outcomeResult{Outcome: outcome, Warning: outcome.Warning()}, nil
}
