package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultConsumerQueueName is the worker's durable queue.
const DefaultConsumerQueueName = "fieldsync.worker"

// RabbitMQConsumerConfig configures NewRabbitMQConsumer.
type RabbitMQConsumerConfig struct {
	URL       string
	QueueName string
	Exchange  string
	// Prefetch bounds unacknowledged deliveries. Defaults to 1.
	Prefetch int
	Logger   *slog.Logger
}

// RabbitMQConsumer feeds a durable queue into a ConsumerRegistry. A delivery
// whose consumers fail is requeued once; a second failure drops it.
type RabbitMQConsumer struct {
	cfg      RabbitMQConsumerConfig
	conn     *amqp.Connection
	ch       *amqp.Channel
	registry *ConsumerRegistry
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

func NewRabbitMQConsumer(cfg RabbitMQConsumerConfig, registry *ConsumerRegistry) (*RabbitMQConsumer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.QueueName == "" {
		cfg.QueueName = DefaultConsumerQueueName
	}
	if cfg.Exchange == "" {
		cfg.Exchange = ExchangeName
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if registry == nil {
		registry = NewConsumerRegistry(cfg.Logger)
	}

	conn, ch, err := dialTopic(cfg.URL, cfg.Exchange)
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrapf(err, "declare queue %s", cfg.QueueName)
	}

	return &RabbitMQConsumer{
		cfg:      cfg,
		conn:     conn,
		ch:       ch,
		registry: registry,
		logger:   cfg.Logger,
		done:     make(chan struct{}),
	}, nil
}

// RegisterConsumer adds consumer to the registry. Queue bindings are made
// by Start.
func (c *RabbitMQConsumer) RegisterConsumer(consumer EventConsumer) {
	c.registry.Register(consumer)
}

// Start binds the queue to every registered pattern and processes
// deliveries until ctx ends or Close is called.
func (c *RabbitMQConsumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already running")
	}
	c.running = true
	c.mu.Unlock()

	for _, pattern := range c.registry.EventTypes() {
		if err := c.ch.QueueBind(c.cfg.QueueName, pattern, c.cfg.Exchange, false, nil); err != nil {
			return errors.Wrapf(err, "bind %s to %s", c.cfg.QueueName, pattern)
		}
	}
	if err := c.ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return errors.Wrap(err, "set prefetch")
	}
	deliveries, err := c.ch.Consume(c.cfg.QueueName, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "start consuming")
	}
	c.logger.Info("consuming events", "queue", c.cfg.QueueName, "patterns", c.registry.EventTypes())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.settle(d, c.handle(ctx, d))
		}
	}
}

// handle decodes and dispatches one delivery. An undecodable body returns
// nil: redelivering it cannot help.
func (c *RabbitMQConsumer) handle(ctx context.Context, d amqp.Delivery) error {
	event, err := decodeEvent(d.RoutingKey, d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "dropping undecodable delivery", "routing_key", d.RoutingKey, "error", err)
		return nil
	}
	return c.registry.Dispatch(ctx, event)
}

func (c *RabbitMQConsumer) settle(d amqp.Delivery, err error) {
	var ackErr error
	switch {
	case err == nil:
		ackErr = d.Ack(false)
	case d.Redelivered:
		c.logger.Error("dropping delivery after retry", "routing_key", d.RoutingKey, "message_id", d.MessageId, "error", err)
		ackErr = d.Nack(false, false)
	default:
		c.logger.Warn("requeueing delivery", "routing_key", d.RoutingKey, "message_id", d.MessageId, "error", err)
		ackErr = d.Nack(false, true)
	}
	if ackErr != nil {
		c.logger.Error("failed to settle delivery", "routing_key", d.RoutingKey, "error", ackErr)
	}
}

// Close stops Start and closes the connection. It is safe to call twice.
func (c *RabbitMQConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	c.running = false
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
