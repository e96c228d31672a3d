package events

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
)

// MismatchConsumer raises an alert for every job the FSM disagrees with.
// Mismatches are soft failures the scheduler already saw as a warning, so
// this is where they become visible to operators.
type MismatchConsumer struct {
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewMismatchConsumer creates a MismatchConsumer.
func NewMismatchConsumer(logger *slog.Logger, metrics observability.Metrics) *MismatchConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &MismatchConsumer{logger: logger, metrics: metrics}
}

// EventTypes implements eventbus.EventConsumer.
func (c *MismatchConsumer) EventTypes() []string {
	return []string{domain.RoutingKeyJobSyncMismatch, domain.RoutingKeyJobSyncFailed}
}

// Handle implements eventbus.EventConsumer.
func (c *MismatchConsumer) Handle(ctx context.Context, event *eventbus.ConsumedEvent) error {
	var sync domain.SyncEvent
	if err := event.Decode(&sync); err != nil {
		return err
	}

	c.metrics.Counter(observability.MetricSyncAlerts, 1,
		observability.T("operation", string(sync.Operation)),
		observability.T("routing_key", event.RoutingKey),
	)

	attrs := []any{
		"job_id", sync.JobID,
		"operation", sync.Operation,
		"error", sync.Error,
		"correlation_id", sync.CorrelationID,
		"event_id", sync.EventID,
	}
	if len(sync.Missing) > 0 {
		attrs = append(attrs, "missing", sync.Missing)
	}
	if len(sync.Stale) > 0 {
		attrs = append(attrs, "stale", sync.Stale)
	}

	if event.RoutingKey == domain.RoutingKeyJobSyncFailed {
		c.logger.ErrorContext(ctx, "fsm sync failed for job", attrs...)
		return nil
	}
	c.logger.WarnContext(ctx, "fsm disagrees with local schedule", attrs...)
	return nil
}
