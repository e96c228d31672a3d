package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the durable topic exchange for job sync events.
const ExchangeName = "fieldsync.events"

// dialTopic connects and declares the durable topic exchange.
func dialTopic(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "dial rabbitmq")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, errors.Wrapf(err, "declare exchange %s", exchange)
	}
	return conn, ch, nil
}

// RabbitMQPublisher publishes persistent messages in confirm mode: Publish
// returns only after the broker has taken the message, so the outbox never
// marks a message published that the broker dropped.
type RabbitMQPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger
}

func NewRabbitMQPublisher(url string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, ch, err := dialTopic(url, ExchangeName)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "enable publisher confirms")
	}
	logger.Info("rabbitmq publisher connected", "exchange", ExchangeName)
	return &RabbitMQPublisher{conn: conn, ch: ch, exchange: ExchangeName, logger: logger}, nil
}

// Publish sends payload and waits for the broker's confirmation. The event
// id becomes the AMQP message id so consumers can deduplicate.
func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	}
	if event, err := decodeEvent(routingKey, payload); err == nil && event.EventID != uuid.Nil {
		msg.MessageId = event.EventID.String()
		msg.CorrelationId = event.CorrelationID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err != nil {
		return errors.Wrapf(err, "publish %s", routingKey)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrapf(err, "await confirm for %s", routingKey)
	}
	if !acked {
		return errors.Newf("broker rejected %s", routingKey)
	}
	p.logger.DebugContext(ctx, "event published", "routing_key", routingKey, "bytes", len(payload))
	return nil
}

// Ping fails once the broker connection has closed.
func (p *RabbitMQPublisher) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return ctx.Err()
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}
