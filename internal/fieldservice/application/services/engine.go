package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/application/window"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSyncRecords stores every outcome in repo.
func WithSyncRecords(repo domain.SyncRecordRepository) EngineOption {
	return func(e *Engine) { e.records = repo }
}

// WithPublisher publishes a SyncEvent for every outcome.
func WithPublisher(p EventPublisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

// WithUnitOfWork stores the sync record and publishes its event atomically.
func WithUnitOfWork(uow UnitOfWork) EngineOption {
	return func(e *Engine) { e.uow = uow }
}

// WithEngineMetrics sets the metrics sink.
func WithEngineMetrics(m observability.Metrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithStrategies replaces the clear-schedule strategy order.
func WithStrategies(strategies ...ClearStrategy) EngineOption {
	return func(e *Engine) { e.strategies = strategies }
}

// WithJobLocks serializes operations on the same job within this process.
// Without it, concurrent calls on one job race and the last verified write wins.
func WithJobLocks() EngineOption {
	return func(e *Engine) { e.locks = newJobLocks() }
}

// Engine is the entry point for schedule actions coming from the scheduling UI.
type Engine struct {
	gw          Gateway
	directory   Directory
	calculator  *window.Calculator
	reconciler  *Reconciler
	unscheduler *Unscheduler
	strategies  []ClearStrategy

	records   domain.SyncRecordRepository
	publisher EventPublisher
	uow       UnitOfWork
	locks     *jobLocks
	logger    *slog.Logger
	metrics   observability.Metrics
}

// NewEngine creates an Engine.
func NewEngine(gw Gateway, dir Directory, calc *window.Calculator, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		gw:         gw,
		directory:  dir,
		calculator: calc,
		logger:     logger,
		metrics:    observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.reconciler = NewReconciler(gw, logger)
	e.unscheduler = NewUnscheduler(gw, e.strategies, logger)
	return e
}

// ComputeWindow returns the UTC window an intent maps to.
func (e *Engine) ComputeWindow(intent domain.ScheduleIntent) (window.Result, error) {
	return e.calculator.Compute(window.RequestFromIntent(intent))
}

// ResolveCrew resolves crew display names to users and a team.
func (e *Engine) ResolveCrew(ctx context.Context, names []string) domain.CrewResolution {
	return e.directory.ResolveCrew(ctx, names)
}

// Create creates a job with its crew assigned and verifies the assignment.
// The returned error is set only for an invalid intent.
func (e *Engine) Create(ctx context.Context, intent domain.ScheduleIntent) (*domain.Outcome, error) {
	if err := intent.Validate(false); err != nil {
		return nil, err
	}
	win, err := e.ComputeWindow(intent)
	if err != nil {
		return nil, err
	}

	o := domain.NewOutcome("", domain.OperationCreate)
	users, team := e.assignees(ctx, o, intent)

	assignments := make([]domain.Assignment, 0, len(users))
	for _, id := range users {
		t := team
		if t == "" {
			t = e.userTeam(ctx, id)
		}
		assignments = append(assignments, domain.Assignment{UserID: id, TeamID: t})
	}

	title := strings.TrimSpace(intent.Title)
	if title == "" {
		title = strings.ToUpper(string(intent.Category[:1])) + string(intent.Category[1:])
	}

	start := time.Now()
	id, err := e.gw.CreateJob(ctx, domain.NewJob{
		Title:       title,
		Category:    intent.Category,
		Start:       win.Start,
		End:         win.End,
		DueDate:     win.End,
		Assignments: assignments,
	})
	if err != nil {
		o.Fail(errors.Wrap(err, "create job"))
		return e.finish(ctx, o, start), nil
	}
	o.JobID = id
	o.Step("created")

	// Creation is the only call that sets assignment atomically; verify it
	// the same way a reconcile would.
	rec := e.reconciler.Reconcile(ctx, ReconcileRequest{JobID: id, DesiredUserIDs: users, TeamID: team})
	merge(o, rec)
	return e.finish(ctx, o, start), nil
}

// Reschedule moves an existing job and, when the intent names a crew,
// reconciles its assignment.
func (e *Engine) Reschedule(ctx context.Context, intent domain.ScheduleIntent) (*domain.Outcome, error) {
	if err := intent.Validate(true); err != nil {
		return nil, err
	}
	win, err := e.ComputeWindow(intent)
	if err != nil {
		return nil, err
	}

	release := e.lock(intent.JobID)
	defer release()

	start := time.Now()
	o := domain.NewOutcome(intent.JobID, domain.OperationReschedule)
	if err := e.gw.RescheduleJob(ctx, intent.JobID, win.Start, win.End); err != nil {
		o.Fail(errors.Wrap(err, "reschedule job"))
		return e.finish(ctx, o, start), nil
	}
	o.Step("rescheduled")

	job, err := e.gw.GetJob(ctx, intent.JobID)
	if err != nil {
		o.Fail(errors.Wrap(err, "verify window"))
		return e.finish(ctx, o, start), nil
	}
	if !windowMatches(job, win) {
		o.Fail(&domain.VerificationMismatch{
			AssignedCount: job.AssignedCount,
			Unscheduled:   job.IsUnscheduled(),
			Detail:        "schedule window not applied: want " + win.StartString() + " - " + win.EndString(),
		})
		return e.finish(ctx, o, start), nil
	}
	o.Step("window_verified")

	if intent.CrewNames == nil && intent.UserIDs == nil {
		o.AssignedCount = job.AssignedCount
		o.Succeed()
		return e.finish(ctx, o, start), nil
	}

	users, team := e.assignees(ctx, o, intent)
	rec := e.reconciler.Reconcile(ctx, ReconcileRequest{JobID: intent.JobID, DesiredUserIDs: users, TeamID: team})
	merge(o, rec)
	return e.finish(ctx, o, start), nil
}

// Reconcile makes the job's assigned set equal desired.
func (e *Engine) Reconcile(ctx context.Context, req ReconcileRequest) (*domain.Outcome, error) {
	if req.JobID == "" {
		return nil, errors.Wrap(domain.ErrInvalidIntent, "job id is required")
	}
	release := e.lock(req.JobID)
	defer release()

	start := time.Now()
	o := e.reconciler.Reconcile(ctx, req)
	return e.finish(ctx, o, start), nil
}

// Unschedule clears the job's assignment and window.
func (e *Engine) Unschedule(ctx context.Context, req UnscheduleRequest) (*domain.Outcome, error) {
	if req.JobID == "" {
		return nil, errors.Wrap(domain.ErrInvalidIntent, "job id is required")
	}
	release := e.lock(req.JobID)
	defer release()

	start := time.Now()
	o := e.unscheduler.Unschedule(ctx, req)
	return e.finish(ctx, o, start), nil
}

// History returns the stored outcomes for a job, newest first.
func (e *Engine) History(ctx context.Context, jobID string, limit int) ([]*domain.SyncRecord, error) {
	if e.records == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	return e.records.FindByJob(ctx, jobID, limit)
}

// assignees merges explicit user ids with resolved crew names and picks the
// team: explicit id, then team name, then the crew's team.
func (e *Engine) assignees(ctx context.Context, o *domain.Outcome, intent domain.ScheduleIntent) ([]string, string) {
	users := append([]string{}, intent.UserIDs...)
	team := intent.TeamID

	if intent.TeamName != "" && team == "" {
		if id, ok := e.directory.ResolveTeam(ctx, intent.TeamName); ok {
			team = id
		} else {
			o.Warn((&domain.ResolutionFailure{Kind: "team", Name: intent.TeamName}).Error())
		}
	}

	if len(intent.CrewNames) > 0 {
		crew := e.directory.ResolveCrew(ctx, intent.CrewNames)
		users = append(users, crew.UserIDs...)
		if team == "" {
			team = crew.TeamID
		}
		for _, name := range crew.Missing {
			o.Warn((&domain.ResolutionFailure{Kind: "crew", Name: name}).Error())
		}
	}
	return minus(users, nil), team
}

func (e *Engine) userTeam(ctx context.Context, userID string) string {
	team, err := e.gw.UserTeam(ctx, userID)
	if err != nil {
		e.logger.WarnContext(ctx, "user profile lookup failed", "user_id", userID, "error", err)
		return ""
	}
	return team
}

func (e *Engine) lock(jobID string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.lock(jobID)
}

// finish records metrics, stores the outcome and publishes its event.
// Storage and publishing problems are logged; they never change the outcome.
func (e *Engine) finish(ctx context.Context, o *domain.Outcome, start time.Time) *domain.Outcome {
	status := "success"
	switch {
	case o.SoftFailure():
		status = "mismatch"
	case !o.Success:
		status = "failed"
	}
	tags := []observability.Tag{observability.T("operation", string(o.Operation)), observability.T("status", status)}
	switch o.Operation {
	case domain.OperationUnschedule:
		e.metrics.Counter(observability.MetricUnscheduleTotal, 1, tags...)
	case domain.OperationReconcile:
		e.metrics.Counter(observability.MetricReconcileTotal, 1, tags...)
	default:
		e.metrics.Counter(observability.MetricScheduleTotal, 1, tags...)
	}
	if o.SoftFailure() {
		e.metrics.Counter(observability.MetricReconcileMismatch, 1, observability.T("operation", string(o.Operation)))
	}
	e.metrics.Timing(observability.MetricOperationDuration, time.Since(start), observability.T("operation", string(o.Operation)))

	ctx = observability.WithJobID(ctx, o.JobID)
	logger := e.logger.With("operation", o.Operation, "duration_ms", time.Since(start).Milliseconds())
	switch status {
	case "success":
		logger.InfoContext(ctx, "fsm sync completed", "steps", o.Steps)
	case "mismatch":
		logger.WarnContext(ctx, "fsm sync mismatch", "error", o.Error, "steps", o.Steps)
	default:
		logger.ErrorContext(ctx, "fsm sync failed", "error", o.Error, "steps", o.Steps)
	}

	if err := e.record(ctx, o); err != nil {
		logger.WarnContext(ctx, "failed to record sync outcome", "error", err)
	}
	return o
}

// record stores the outcome and publishes its event. With a unit of work
// both happen in one transaction or not at all.
func (e *Engine) record(ctx context.Context, o *domain.Outcome) (err error) {
	if e.records == nil && e.publisher == nil {
		return nil
	}
	corrID := observability.CorrelationIDFromContext(ctx)

	if e.uow != nil {
		txCtx, beginErr := e.uow.Begin(ctx)
		if beginErr != nil {
			return errors.Wrap(beginErr, "begin sync record transaction")
		}
		ctx = txCtx
		defer func() {
			if err != nil {
				err = errors.CombineErrors(err, e.uow.Rollback(ctx))
				return
			}
			err = errors.Wrap(e.uow.Commit(ctx), "commit sync record")
		}()
	}

	if e.records != nil {
		if saveErr := e.records.Save(ctx, domain.NewSyncRecord(o, corrID)); saveErr != nil {
			err = errors.CombineErrors(err, errors.Wrap(saveErr, "store sync record"))
		}
	}
	if e.publisher != nil {
		if pubErr := e.publisher.Publish(ctx, domain.NewSyncEvent(o, corrID)); pubErr != nil {
			err = errors.CombineErrors(err, errors.Wrap(pubErr, "publish sync event"))
		}
	}
	return err
}

// merge folds a reconcile outcome into the outer create/reschedule outcome.
func merge(o, rec *domain.Outcome) {
	o.Steps = append(o.Steps, rec.Steps...)
	o.Warnings = append(o.Warnings, rec.Warnings...)
	o.AssignedCount = rec.AssignedCount
	if rec.Success {
		o.Succeed()
		return
	}
	o.Fail(rec.Err)
}

func windowMatches(job *domain.Job, win window.Result) bool {
	if job.Start == nil || job.End == nil {
		return false
	}
	return job.Start.Equal(win.Start.Truncate(time.Second)) && job.End.Equal(win.End.Truncate(time.Second))
}
