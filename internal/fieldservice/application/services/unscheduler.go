package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
)

// ClearStrategy is one tenant-specific mechanism for dropping a job's
// schedule window. Strategies run in order until one verifies.
type ClearStrategy interface {
	Name() string
	Clear(ctx context.Context, gw Gateway, jobID string, due *time.Time) error
}

// FlagClear uses the update endpoint's dedicated clear-schedule flag.
type FlagClear struct{}

func (FlagClear) Name() string { return "clear_flag" }

func (FlagClear) Clear(ctx context.Context, gw Gateway, jobID string, due *time.Time) error {
	return gw.ClearSchedule(ctx, jobID, due)
}

// NullFieldClear nulls the primary and datetime-typed window fields.
type NullFieldClear struct{}

func (NullFieldClear) Name() string { return "null_fields" }

func (NullFieldClear) Clear(ctx context.Context, gw Gateway, jobID string, due *time.Time) error {
	return gw.NullifySchedule(ctx, jobID, due)
}

// DefaultStrategies returns the clear mechanisms in the order they are tried.
func DefaultStrategies() []ClearStrategy {
	return []ClearStrategy{FlagClear{}, NullFieldClear{}}
}

// UnscheduleRequest identifies the job to clear.
type UnscheduleRequest struct {
	JobID string
	// TransitionStatus moves the job to its category's ready status once
	// the clear has verified.
	TransitionStatus bool
}

// Unscheduler clears a job's assignments and schedule window:
//
//	AssignmentsPresent -> AssignmentsCleared -> ScheduleCleared -> Verified -> StatusTransitioned
//
// A failed transition is recorded and the machine moves on; only the
// verification decides the outcome.
type Unscheduler struct {
	gw         Gateway
	strategies []ClearStrategy
	logger     *slog.Logger
	now        func() time.Time
}

// NewUnscheduler creates an Unscheduler. Nil strategies uses DefaultStrategies.
func NewUnscheduler(gw Gateway, strategies []ClearStrategy, logger *slog.Logger) *Unscheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Unscheduler{gw: gw, strategies: strategies, logger: logger, now: time.Now}
}

// Unschedule runs the state machine for one job.
func (u *Unscheduler) Unschedule(ctx context.Context, req UnscheduleRequest) *domain.Outcome {
	o := domain.NewOutcome(req.JobID, domain.OperationUnschedule)
	logger := u.logger.With("job_id", req.JobID)

	job, err := u.gw.GetJob(ctx, req.JobID)
	if err != nil {
		return o.Fail(errors.Wrap(err, "fetch job"))
	}
	o.Step("fetched")

	u.clearAssignments(ctx, o, job, logger)

	due := u.seedDueDate(job)
	if due != nil {
		o.Step("due_date_seeded")
	}

	var verified *domain.Job
	var last *domain.Job
	for _, s := range u.strategies {
		if err := s.Clear(ctx, u.gw, job.ID, due); err != nil {
			// Some tenants apply the change and still answer with an error.
			o.Warn(s.Name() + ": " + err.Error())
			logger.WarnContext(ctx, "clear strategy failed", "strategy", s.Name(), "error", err)
		}

		got, err := u.gw.GetJob(ctx, job.ID)
		if err != nil {
			o.Warn(s.Name() + " verify: " + err.Error())
			continue
		}
		last = got
		o.AssignedCount = got.AssignedCount
		o.Unscheduled = got.IsUnscheduled()
		if got.IsCleared() {
			o.Strategy = s.Name()
			o.Step("verified:" + s.Name())
			verified = got
			break
		}
		logger.InfoContext(ctx, "clear strategy did not verify",
			"strategy", s.Name(),
			"assigned_count", got.AssignedCount,
			"unscheduled", got.IsUnscheduled(),
		)
	}

	if verified == nil {
		if last == nil {
			return o.Fail(errors.New("could not re-fetch job to verify unschedule"))
		}
		return o.Fail(&domain.VerificationMismatch{
			AssignedCount: last.AssignedCount,
			Unscheduled:   last.IsUnscheduled(),
			Detail:        unclearedDetail(last),
		})
	}

	o.Succeed()
	if req.TransitionStatus {
		u.transition(ctx, o, job, verified, logger)
	}
	return o
}

// clearAssignments removes parsed assignments directly. Entries without a
// user id are overwritten and then swept by team if they survive.
func (u *Unscheduler) clearAssignments(ctx context.Context, o *domain.Outcome, job *domain.Job, logger *slog.Logger) {
	if job.AssignedCount == 0 {
		return
	}
	team := teamFor("", job)

	if ids := job.AssignedUserIDs(); len(ids) > 0 {
		if err := unassign(ctx, u.gw, job, ids, team); err != nil {
			o.Warn("unassign: " + err.Error())
			return
		}
		if job.UnparsedCount() == 0 {
			o.Step("assignments_cleared")
			return
		}
		o.Step("parsed_assignments_cleared")
		logger.WarnContext(ctx, "assignment entries without a user id remain",
			"unparsed", job.UnparsedCount(),
		)
	}

	if err := u.gw.ReplaceAssignments(ctx, job.ID, nil); err != nil {
		o.Warn("assignment overwrite: " + err.Error())
	} else {
		o.Step("assignments_overwritten")
	}

	after, err := u.gw.GetJob(ctx, job.ID)
	if err == nil && after.AssignedCount == 0 {
		o.Step("assignments_cleared")
		return
	}
	if team == "" {
		o.Warn("unidentified assignments remain and no team is known, sweep skipped")
		return
	}
	removed, err := sweep(ctx, u.gw, job.ID, team, nil)
	if err != nil {
		o.Warn("team sweep: " + err.Error())
		return
	}
	o.Step("team_swept")
	logger.InfoContext(ctx, "swept team members", "team_id", team, "users", removed)
}

// seedDueDate returns a due date to send when the job has none: its end
// time, or now. Nil means the job's own due date stands.
func (u *Unscheduler) seedDueDate(job *domain.Job) *time.Time {
	if job.DueDate != nil {
		return nil
	}
	if job.End != nil {
		d := job.End.UTC()
		return &d
	}
	d := u.now().UTC().Truncate(time.Second)
	return &d
}

func (u *Unscheduler) transition(ctx context.Context, o *domain.Outcome, before, after *domain.Job, logger *slog.Logger) {
	category := after.Category
	if category == "" {
		category = before.Category
	}
	name := category.ReadyStatusName()
	if name == "" {
		o.StatusError = "job category unknown, no ready status to move to"
		return
	}

	status, ok := after.FindStatus(name)
	if !ok {
		status, ok = before.FindStatus(name)
	}

	var err error
	if ok && status.ID != "" {
		err = u.gw.UpdateStatusByID(ctx, after.ID, status.ID)
	} else {
		err = u.gw.UpdateStatusByName(ctx, after.ID, name)
	}
	if err != nil {
		o.StatusError = err.Error()
		logger.WarnContext(ctx, "status transition failed", "status", name, "error", err)
		return
	}
	o.StatusTransition = name
	o.Step("status_transitioned")
}

func unclearedDetail(job *domain.Job) string {
	var parts []string
	if job.AssignedCount > 0 {
		parts = append(parts, "job still assigned")
	}
	if !job.IsUnscheduled() {
		parts = append(parts, "job still has a schedule window")
	}
	if len(parts) == 0 {
		return "job did not reach cleared state"
	}
	return strings.Join(parts, " and ")
}
