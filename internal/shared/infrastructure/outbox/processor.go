package outbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
)

// ProcessorConfig tunes the outbox relay.
type ProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries is the number of publish attempts before a message is
	// dead-lettered.
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	// Retention is how long Cleanup keeps published messages.
	Retention time.Duration
	// PublishRate caps broker publishes per second. Zero is unlimited.
	PublishRate float64
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:     100 * time.Millisecond,
		BatchSize:        100,
		MaxRetries:       5,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  time.Minute,
		Retention:        7 * 24 * time.Hour,
	}
}

// Stats describes the relay for the worker's health endpoint.
type Stats struct {
	IsRunning       bool
	PublishedCount  uint64
	FailedCount     uint64
	DeadCount       uint64
	LagSeconds      float64
	LastError       string
	LastErrorAt     *time.Time
	LastProcessedAt *time.Time
	OldestMessageAt *time.Time
}

// Processor relays committed outbox messages to a Publisher. Delivery is
// at least once: a crash between publish and MarkPublished republishes.
type Processor struct {
	repo    Repository
	pub     eventbus.Publisher
	cfg     ProcessorConfig
	logger  *slog.Logger
	metrics observability.Metrics
	limiter *rate.Limiter

	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	published atomic.Uint64
	failed    atomic.Uint64
	dead      atomic.Uint64

	statsMu sync.Mutex
	last    Stats
}

func NewProcessor(repo Repository, pub eventbus.Publisher, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.PublishRate > 0 {
		limit = rate.Limit(cfg.PublishRate)
	}
	return &Processor{
		repo:    repo,
		pub:     pub,
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NoopMetrics{},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// WithMetrics counts publishes by routing key and status.
func (p *Processor) WithMetrics(m observability.Metrics) *Processor {
	if m != nil {
		p.metrics = m
	}
	return p
}

// Start runs the poll loop in the background. Starting twice is a no-op.
func (p *Processor) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)

	p.logger.Info("outbox processor started", "poll_interval", p.cfg.PollInterval, "batch_size", p.cfg.BatchSize)
	return nil
}

// Stop cancels the loop and waits for the batch in flight.
func (p *Processor) Stop() {
	p.lifeMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.lifeMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("outbox processor stopped")
}

func (p *Processor) IsRunning() bool {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	return p.cancel != nil
}

func (p *Processor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := p.cfg.PollInterval
	if interval <= 0 {
		interval = DefaultProcessorConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox batch failed", "error", err)
			}
		}
	}
}

// ProcessOnce relays one batch. It fails only when the batch cannot be
// read; per-message failures are recorded on the message.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	batch, err := p.repo.GetUnpublished(ctx, p.cfg.BatchSize)
	if err != nil {
		p.noteError(err)
		return err
	}
	p.noteBatch(batch)

	for _, msg := range batch {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		p.relay(ctx, msg)
	}
	return nil
}

func (p *Processor) relay(ctx context.Context, msg *Message) {
	log := p.logger.With(
		"outbox_id", msg.ID,
		"routing_key", msg.RoutingKey,
		"event_id", msg.EventID,
		"job_id", msg.AggregateID,
	)
	if corr := msg.metadata().CorrelationID; corr != "" {
		ctx = observability.WithCorrelationID(ctx, corr)
	}

	if err := p.pub.Publish(ctx, msg.RoutingKey, msg.Payload); err != nil {
		p.count(msg, "failed")
		p.noteError(err)
		if p.exhausted(msg) {
			p.dead.Add(1)
			log.ErrorContext(ctx, "outbox message dead-lettered", "attempts", msg.RetryCount+1, "error", err)
			if markErr := p.repo.MarkDead(ctx, msg.ID, err.Error()); markErr != nil {
				log.ErrorContext(ctx, "failed to dead-letter outbox message", "error", markErr)
			}
			return
		}
		p.failed.Add(1)
		retryAt := time.Now().Add(p.backoff(msg.RetryCount + 1))
		log.WarnContext(ctx, "outbox publish failed", "retry_at", retryAt, "error", err)
		if markErr := p.repo.MarkFailed(ctx, msg.ID, err.Error(), retryAt); markErr != nil {
			log.ErrorContext(ctx, "failed to record outbox failure", "error", markErr)
		}
		return
	}

	if err := p.repo.MarkPublished(ctx, msg.ID); err != nil {
		log.ErrorContext(ctx, "failed to mark outbox message published", "error", err)
		return
	}
	p.published.Add(1)
	p.count(msg, "published")
}

func (p *Processor) count(msg *Message, status string) {
	p.metrics.Counter(observability.MetricEventsPublished, 1,
		observability.T("routing_key", msg.RoutingKey),
		observability.T("status", status),
	)
}

// exhausted reports whether the attempt that just failed was the last one.
func (p *Processor) exhausted(msg *Message) bool {
	return p.cfg.MaxRetries <= 0 || !msg.CanRetry(p.cfg.MaxRetries-1)
}

// backoff doubles from RetryBackoffBase per attempt, capped at RetryBackoffMax.
func (p *Processor) backoff(attempt int) time.Duration {
	base, ceiling := p.cfg.RetryBackoffBase, p.cfg.RetryBackoffMax
	if base <= 0 {
		base = time.Second
	}
	if ceiling <= 0 {
		ceiling = time.Minute
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= ceiling {
			break
		}
		d *= 2
	}
	return min(d, ceiling)
}

// Cleanup deletes published messages older than Retention.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	retention := p.cfg.Retention
	if retention <= 0 {
		retention = DefaultProcessorConfig().Retention
	}
	n, err := p.repo.DeleteOld(ctx, retention)
	if err != nil {
		p.noteError(err)
		return 0, err
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "outbox cleanup", "deleted", n, "retention", retention)
	}
	return n, nil
}

// GetStats returns a snapshot of the relay counters.
func (p *Processor) GetStats() Stats {
	p.statsMu.Lock()
	s := p.last
	p.statsMu.Unlock()

	s.IsRunning = p.IsRunning()
	s.PublishedCount = p.published.Load()
	s.FailedCount = p.failed.Load()
	s.DeadCount = p.dead.Load()
	return s
}

func (p *Processor) noteError(err error) {
	now := time.Now()
	p.statsMu.Lock()
	p.last.LastError = err.Error()
	p.last.LastErrorAt = &now
	p.statsMu.Unlock()
}

// noteBatch records when the relay last polled and how far behind it is.
func (p *Processor) noteBatch(batch []*Message) {
	now := time.Now()
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	p.last.LastProcessedAt = &now
	p.last.OldestMessageAt = nil
	p.last.LagSeconds = 0
	for _, msg := range batch {
		if p.last.OldestMessageAt == nil || msg.CreatedAt.Before(*p.last.OldestMessageAt) {
			created := msg.CreatedAt
			p.last.OldestMessageAt = &created
		}
	}
	if p.last.OldestMessageAt != nil {
		p.last.LagSeconds = now.Sub(*p.last.OldestMessageAt).Seconds()
	}
}
