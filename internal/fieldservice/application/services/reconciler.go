package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
)

// ReconcileRequest is the desired assignment state for one job. An empty
// DesiredUserIDs means the job should end up fully unassigned.
type ReconcileRequest struct {
	JobID          string
	DesiredUserIDs []string
	TeamID         string
}

// Reconciler makes a job's FSM assignment set match a desired set and
// verifies the result by re-fetching the job.
type Reconciler struct {
	gw     Gateway
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(gw Gateway, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{gw: gw, logger: logger}
}

// Reconcile runs one reconciliation. Failures are reported on the outcome;
// a verification mismatch is a soft failure.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) *domain.Outcome {
	o := domain.NewOutcome(req.JobID, domain.OperationReconcile)
	r.run(ctx, o, req)
	return o
}

func (r *Reconciler) run(ctx context.Context, o *domain.Outcome, req ReconcileRequest) {
	logger := r.logger.With("job_id", req.JobID)

	job, err := r.gw.GetJob(ctx, req.JobID)
	if err != nil {
		o.Fail(errors.Wrap(err, "fetch job"))
		return
	}
	o.Step("fetched")

	desired := minus(req.DesiredUserIDs, nil)
	desiredSet := newUserSet(desired)
	current := job.AssignedUserIDs()
	opaque := job.OpaqueAssignment()
	if opaque {
		o.Step("opaque_assignment")
		logger.WarnContext(ctx, "assignment list could not be parsed",
			"assigned_count", job.AssignedCount,
		)
	}

	team := teamFor(req.TeamID, job)
	if opaque && job.AssignedCount == len(desired) {
		// Nothing identifiable to change; the count is all verify can check.
		r.verify(ctx, o, job.ID, desired, team)
		return
	}

	toRemove := minus(current, desiredSet)
	toAdd := minus(desired, newUserSet(current))

	if len(toRemove) > 0 {
		if err := unassign(ctx, r.gw, job, toRemove, team); err != nil {
			o.Fail(errors.Wrap(err, "unassign"))
			return
		}
		o.Step("unassigned")
		logger.InfoContext(ctx, "unassigned users", "users", toRemove)
	}
	if unparsed := job.UnparsedCount(); unparsed > 0 {
		if team == "" {
			o.Warn(fmt.Sprintf("%d assignment entries carry no user id and no team is known, sweep skipped", unparsed))
		} else {
			removed, err := sweep(ctx, r.gw, job.ID, team, desiredSet)
			if err != nil {
				o.Fail(errors.Wrap(err, "team sweep"))
				return
			}
			o.Step("team_swept")
			logger.InfoContext(ctx, "swept team members",
				"team_id", team,
				"users", removed,
				"unparsed", unparsed,
			)
		}
	}

	if len(toAdd) > 0 {
		if team == "" {
			team = r.profileTeam(ctx, toAdd)
		}
		if team == "" {
			o.Fail(errors.Wrapf(domain.ErrNoTeam, "assign %v", toAdd))
			return
		}
		changes := make([]domain.AssignmentChange, 0, len(toAdd))
		for _, id := range toAdd {
			changes = append(changes, domain.AssignmentChange{Type: domain.ChangeAssign, UserID: id, TeamID: team})
		}
		if err := r.gw.UpdateAssignments(ctx, job.ID, changes); err != nil {
			o.Fail(errors.Wrap(err, "assign"))
			return
		}
		o.Step("assigned")
		logger.InfoContext(ctx, "assigned users", "team_id", team, "users", toAdd)
	}

	r.verify(ctx, o, job.ID, desired, team)
}

// verify re-fetches the job and compares the actual set and raw count with
// desired. Stale users get exactly one corrective unassign pass. Entries
// without a user id get exactly one team sweep.
func (r *Reconciler) verify(ctx context.Context, o *domain.Outcome, jobID string, desired []string, team string) {
	desiredSet := newUserSet(desired)
	corrected, swept := false, false

	for {
		job, err := r.gw.GetJob(ctx, jobID)
		if err != nil {
			o.Fail(errors.Wrap(err, "verify"))
			return
		}
		o.AssignedCount = job.AssignedCount

		if job.OpaqueAssignment() {
			// Only the count can be compared.
			if job.AssignedCount == len(desired) {
				o.Step("verified")
				o.Warn("assignment verified by count only")
				o.Succeed()
				return
			}
			o.Fail(&domain.VerificationMismatch{
				AssignedCount: job.AssignedCount,
				Detail:        fmt.Sprintf("expected %d assigned, found %d unparseable entries", len(desired), job.AssignedCount),
			})
			return
		}

		actual := job.AssignedUserIDs()
		missing := minus(desired, newUserSet(actual))
		stale := minus(actual, desiredSet)
		unparsed := job.UnparsedCount()

		if len(missing) == 0 && len(stale) == 0 && unparsed == 0 {
			o.Step("verified")
			o.Succeed()
			return
		}

		if len(stale) > 0 && !corrected {
			corrected = true
			r.logger.WarnContext(ctx, "stale assignments after reconcile, correcting",
				"job_id", jobID,
				"stale", stale,
			)
			if err := unassign(ctx, r.gw, job, stale, team); err != nil {
				o.Warn("corrective unassign failed: " + err.Error())
			} else {
				o.Step("corrected")
				continue
			}
		}

		if unparsed > 0 && !swept && team != "" {
			swept = true
			if _, err := sweep(ctx, r.gw, jobID, team, desiredSet); err != nil {
				o.Warn("corrective team sweep failed: " + err.Error())
			} else {
				o.Step("team_swept")
				continue
			}
		}

		mismatch := &domain.VerificationMismatch{
			Missing:       missing,
			Stale:         stale,
			AssignedCount: job.AssignedCount,
		}
		if unparsed > 0 {
			mismatch.Detail = fmt.Sprintf("expected %d assigned, found %d including %d without a user id",
				len(desired), job.AssignedCount, unparsed)
		}
		o.Fail(mismatch)
		return
	}
}

// teamFor picks the team for new assignments: explicit, then the job's
// denormalized team field, then any parsed assignment.
func teamFor(explicit string, job *domain.Job) string {
	if explicit != "" {
		return explicit
	}
	if id := job.PrimaryTeamID(); id != "" {
		return id
	}
	for _, a := range job.Assignments {
		if a.TeamID != "" {
			return a.TeamID
		}
	}
	return ""
}

// profileTeam is the last resort: the team on a target user's own profile.
func (r *Reconciler) profileTeam(ctx context.Context, userIDs []string) string {
	for _, id := range userIDs {
		team, err := r.gw.UserTeam(ctx, id)
		if err != nil {
			r.logger.WarnContext(ctx, "user profile lookup failed", "user_id", id, "error", err)
			continue
		}
		if team != "" {
			return team
		}
	}
	return ""
}
