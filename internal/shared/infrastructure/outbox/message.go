package outbox

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Message represents an outbox message ready for publishing.
type Message struct {
	ID               int64
	EventID          uuid.UUID
	AggregateType    string
	AggregateID      string
	EventType        string
	RoutingKey       string
	Payload          json.RawMessage
	Metadata         json.RawMessage
	CreatedAt        time.Time
	PublishedAt      *time.Time
	NextRetryAt      *time.Time
	RetryCount       int
	LastError        *string
	DeadLetteredAt   *time.Time
	DeadLetterReason *string
}

// Metadata travels next to the payload for log correlation.
type Metadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Envelope describes the event an outbox message is built from.
type Envelope struct {
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	RoutingKey    string
	OccurredAt    time.Time
	Metadata      Metadata
}

// NewMessage marshals payload into an outbox message.
func NewMessage(env Envelope, payload any) (*Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal outbox payload")
	}

	var metadata json.RawMessage
	if env.Metadata != (Metadata{}) {
		metadata, err = json.Marshal(env.Metadata)
		if err != nil {
			return nil, errors.Wrap(err, "marshal outbox metadata")
		}
	}

	eventID := env.EventID
	if eventID == uuid.Nil {
		eventID = uuid.New()
	}
	createdAt := env.OccurredAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return &Message{
		EventID:       eventID,
		AggregateType: env.AggregateType,
		AggregateID:   env.AggregateID,
		EventType:     env.RoutingKey,
		RoutingKey:    env.RoutingKey,
		Payload:       body,
		Metadata:      metadata,
		CreatedAt:     createdAt.UTC(),
	}, nil
}

// IsPublished returns true if the message has been published.
func (m *Message) IsPublished() bool {
	return m.PublishedAt != nil
}

// CanRetry returns true if the message can be retried.
func (m *Message) CanRetry(maxRetries int) bool {
	return m.RetryCount < maxRetries
}

func (m *Message) metadata() Metadata {
	var md Metadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &md)
	}
	return md
}
