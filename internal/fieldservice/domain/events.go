package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for field-service sync events.
const (
	RoutingKeyJobScheduled    = "fieldsync.job.scheduled"
	RoutingKeyJobRescheduled  = "fieldsync.job.rescheduled"
	RoutingKeyJobReconciled   = "fieldsync.job.reconciled"
	RoutingKeyJobUnscheduled  = "fieldsync.job.unscheduled"
	RoutingKeyJobSyncMismatch = "fieldsync.job.sync_mismatch"
	RoutingKeyJobSyncFailed   = "fieldsync.job.sync_failed"
)

// SyncEvent is published after every engine operation.
type SyncEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	RoutingKey    string    `json:"routing_key"`
	JobID         string    `json:"job_id"`
	Operation     Operation `json:"operation"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Missing       []string  `json:"missing,omitempty"`
	Stale         []string  `json:"stale,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewSyncEvent builds the event describing an outcome.
func NewSyncEvent(o *Outcome, correlationID string) SyncEvent {
	return SyncEvent{
		EventID:       uuid.New(),
		RoutingKey:    routingKeyFor(o),
		JobID:         o.JobID,
		Operation:     o.Operation,
		Success:       o.Success,
		Error:         o.Error,
		Missing:       o.Missing,
		Stale:         o.Stale,
		CorrelationID: correlationID,
		OccurredAt:    time.Now().UTC(),
	}
}

func routingKeyFor(o *Outcome) string {
	if !o.Success {
		if o.SoftFailure() {
			return RoutingKeyJobSyncMismatch
		}
		return RoutingKeyJobSyncFailed
	}
	switch o.Operation {
	case OperationCreate:
		return RoutingKeyJobScheduled
	case OperationReschedule:
		return RoutingKeyJobRescheduled
	case OperationUnschedule:
		return RoutingKeyJobUnscheduled
	default:
		return RoutingKeyJobReconciled
	}
}
