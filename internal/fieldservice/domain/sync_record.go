package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SyncRecord is the stored history entry for one engine outcome. Only the
// outcome is kept; job snapshots are never persisted.
type SyncRecord struct {
	ID            uuid.UUID
	JobID         string
	Operation     Operation
	Success       bool
	Error         string
	Missing       []string
	Stale         []string
	AssignedCount int
	Unscheduled   bool
	Strategy      string
	CorrelationID string
	CreatedAt     time.Time
}

// NewSyncRecord captures an outcome.
func NewSyncRecord(o *Outcome, correlationID string) *SyncRecord {
	return &SyncRecord{
		ID:            uuid.New(),
		JobID:         o.JobID,
		Operation:     o.Operation,
		Success:       o.Success,
		Error:         o.Error,
		Missing:       o.Missing,
		Stale:         o.Stale,
		AssignedCount: o.AssignedCount,
		Unscheduled:   o.Unscheduled,
		Strategy:      o.Strategy,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
}

// SyncRecordRepository defines the interface for sync record persistence.
type SyncRecordRepository interface {
	// Save appends a record.
	Save(ctx context.Context, record *SyncRecord) error

	// FindByJob returns the newest records for a job, newest first.
	FindByJob(ctx context.Context, jobID string, limit int) ([]*SyncRecord, error)

	// FindRecentFailures returns failed records created after since, newest first.
	FindRecentFailures(ctx context.Context, since time.Time, limit int) ([]*SyncRecord, error)

	// DeleteOlderThan prunes records older than age and returns the count removed.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
