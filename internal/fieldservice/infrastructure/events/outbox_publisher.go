package events

import (
	"context"

	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/outbox"
)

// AggregateJob is the outbox aggregate type for job events.
const AggregateJob = "job"

// OutboxPublisher writes sync events to the outbox. Called inside a unit of
// work, the event commits together with its sync record.
type OutboxPublisher struct {
	repo outbox.Repository
}

// NewOutboxPublisher creates an OutboxPublisher.
func NewOutboxPublisher(repo outbox.Repository) *OutboxPublisher {
	return &OutboxPublisher{repo: repo}
}

// Publish stores the event for the outbox processor to deliver.
func (p *OutboxPublisher) Publish(ctx context.Context, event domain.SyncEvent) error {
	msg, err := outbox.NewMessage(outbox.Envelope{
		EventID:       event.EventID,
		AggregateType: AggregateJob,
		AggregateID:   event.JobID,
		RoutingKey:    event.RoutingKey,
		OccurredAt:    event.OccurredAt,
		Metadata:      outbox.Metadata{CorrelationID: event.CorrelationID},
	}, event)
	if err != nil {
		return err
	}
	return p.repo.Save(ctx, msg)
}
