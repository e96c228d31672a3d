// Package eventbus carries job sync events from the outbox to consumers,
// either over a RabbitMQ topic exchange or in process.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Publisher sends an encoded event under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// Consumer delivers events to registered EventConsumers until Start returns.
type Consumer interface {
	Start(ctx context.Context) error
	RegisterConsumer(consumer EventConsumer)
	Close() error
}

// EventConsumer handles the routing keys it declares. A key ending in ".#"
// matches everything under that prefix and "#" matches every key.
type EventConsumer interface {
	EventTypes() []string
	Handle(ctx context.Context, event *ConsumedEvent) error
}

// ConsumedEvent is an event received from the bus. The header fields are
// lifted from Body, which holds the full published payload.
type ConsumedEvent struct {
	EventID       uuid.UUID       `json:"event_id"`
	RoutingKey    string          `json:"routing_key"`
	JobID         string          `json:"job_id"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Body          json.RawMessage `json:"-"`
}

// Decode unmarshals Body into v.
func (e *ConsumedEvent) Decode(v any) error {
	if len(e.Body) == 0 {
		return errors.New("event has no body")
	}
	return errors.Wrapf(json.Unmarshal(e.Body, v), "decode %s body", e.RoutingKey)
}

// decodeEvent parses the event header from payload. routingKey fills in a
// payload that carries none.
func decodeEvent(routingKey string, payload []byte) (*ConsumedEvent, error) {
	var event ConsumedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, errors.Wrap(err, "decode event header")
	}
	if event.RoutingKey == "" {
		event.RoutingKey = routingKey
	}
	event.Body = append(json.RawMessage(nil), payload...)
	return &event, nil
}
