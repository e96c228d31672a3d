// Package services holds the reconciliation engine: assignment reconciliation,
// the unschedule state machine, and the engine facade that drives them.
package services

import (
	"context"
	"time"

	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
)

// Gateway is the FSM surface the engine depends on.
type Gateway interface {
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	CreateJob(ctx context.Context, job domain.NewJob) (string, error)
	RescheduleJob(ctx context.Context, jobID string, start, end time.Time) error
	ClearSchedule(ctx context.Context, jobID string, due *time.Time) error
	NullifySchedule(ctx context.Context, jobID string, due *time.Time) error
	ReplaceAssignments(ctx context.Context, jobID string, userIDs []string) error
	UpdateAssignments(ctx context.Context, jobID string, changes []domain.AssignmentChange) error
	UpdateStatusByName(ctx context.Context, jobID, statusName string) error
	UpdateStatusByID(ctx context.Context, jobID, statusID string) error
	TeamMembers(ctx context.Context, teamID string) ([]domain.Member, error)
	UserTeam(ctx context.Context, userID string) (string, error)
}

// Directory resolves display names to FSM identifiers.
type Directory interface {
	ResolveCrew(ctx context.Context, names []string) domain.CrewResolution
	ResolveTeam(ctx context.Context, name string) (string, bool)
}

// EventPublisher publishes sync events.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.SyncEvent) error
}

// UnitOfWork scopes the sync record and its event to one transaction carried
// by the returned context.
type UnitOfWork interface {
	Begin(ctx context.Context) (context.Context, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
