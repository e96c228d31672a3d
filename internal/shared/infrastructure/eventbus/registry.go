package eventbus

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

type binding struct {
	pattern  string
	consumer EventConsumer
}

// ConsumerRegistry routes events to consumers in registration order.
type ConsumerRegistry struct {
	mu       sync.RWMutex
	bindings []binding
	logger   *slog.Logger
}

func NewConsumerRegistry(logger *slog.Logger) *ConsumerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsumerRegistry{logger: logger}
}

// Register binds consumer to each of its event types.
func (r *ConsumerRegistry) Register(consumer EventConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pattern := range consumer.EventTypes() {
		r.bindings = append(r.bindings, binding{pattern: pattern, consumer: consumer})
		r.logger.Debug("consumer bound", "pattern", pattern)
	}
}

// GetConsumers returns every consumer bound to a pattern matching routingKey.
// A consumer bound to two matching patterns is returned once.
func (r *ConsumerRegistry) GetConsumers(routingKey string) []EventConsumer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []EventConsumer
	seen := make(map[EventConsumer]bool)
	for _, b := range r.bindings {
		if seen[b.consumer] || !topicMatch(b.pattern, routingKey) {
			continue
		}
		seen[b.consumer] = true
		out = append(out, b.consumer)
	}
	return out
}

// EventTypes returns the distinct bound patterns, sorted. The RabbitMQ
// consumer binds its queue to each.
func (r *ConsumerRegistry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[string]struct{}, len(r.bindings))
	for _, b := range r.bindings {
		set[b.pattern] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ConsumerCount returns the number of bindings.
func (r *ConsumerRegistry) ConsumerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}

// Dispatch hands event to every matching consumer. A failing consumer does
// not stop the rest; all failures are returned together.
func (r *ConsumerRegistry) Dispatch(ctx context.Context, event *ConsumedEvent) error {
	var errs error
	for _, c := range r.GetConsumers(event.RoutingKey) {
		if err := c.Handle(ctx, event); err != nil {
			r.logger.ErrorContext(ctx, "event consumer failed",
				"routing_key", event.RoutingKey,
				"event_id", event.EventID,
				"error", err,
			)
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// topicMatch applies the subset of AMQP topic matching the consumers use:
// exact keys, a trailing ".#" and a bare "#".
func topicMatch(pattern, key string) bool {
	if pattern == "#" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".#"); ok {
		return key == prefix || strings.HasPrefix(key, prefix+".")
	}
	return pattern == key
}
