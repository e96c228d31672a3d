package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InProcessEventBus is the local-mode bus. Publish dispatches synchronously,
// so the outbox processor marks a message published only after every
// consumer has seen it.
type InProcessEventBus struct {
	mu       sync.Mutex
	registry *ConsumerRegistry
	logger   *slog.Logger
}

func NewInProcessEventBus(logger *slog.Logger) *InProcessEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessEventBus{registry: NewConsumerRegistry(logger), logger: logger}
}

func (b *InProcessEventBus) RegisterConsumer(consumer EventConsumer) {
	b.registry.Register(consumer)
}

func (b *InProcessEventBus) Registry() *ConsumerRegistry { return b.registry }

// Publish never fails. An undecodable payload or a failing consumer is
// logged; retrying would only repeat it.
func (b *InProcessEventBus) Publish(ctx context.Context, routingKey string, payload []byte) error {
	event, err := decodeEvent(routingKey, payload)
	if err != nil {
		b.logger.ErrorContext(ctx, "dropping undecodable event", "routing_key", routingKey, "error", err)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	if err := b.registry.Dispatch(ctx, event); err != nil {
		b.logger.ErrorContext(ctx, "in-process dispatch failed",
			"routing_key", event.RoutingKey,
			"job_id", event.JobID,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return nil
	}
	b.logger.DebugContext(ctx, "event dispatched", "routing_key", event.RoutingKey, "event_id", event.EventID)
	return nil
}

// Start blocks until ctx is done; delivery happens inside Publish.
func (b *InProcessEventBus) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (b *InProcessEventBus) Close() error { return nil }
