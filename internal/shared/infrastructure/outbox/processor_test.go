package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/fieldsync/pkg/observability"
)

// memRepo is an in-memory outbox.Repository.
type memRepo struct {
	mu      sync.Mutex
	msgs    []*outbox.Message
	calls   map[string]int
	readErr error
}

func newMemRepo() *memRepo { return &memRepo{calls: map[string]int{}} }

func (r *memRepo) Save(_ context.Context, msg *outbox.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = int64(len(r.msgs) + 1)
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *memRepo) GetUnpublished(_ context.Context, limit int) ([]*outbox.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		return nil, r.readErr
	}
	var due []*outbox.Message
	for _, m := range r.msgs {
		if m.PublishedAt != nil || m.DeadLetteredAt != nil {
			continue
		}
		if m.NextRetryAt != nil && m.NextRetryAt.After(time.Now()) {
			continue
		}
		if due = append(due, m); len(due) == limit {
			break
		}
	}
	return due, nil
}

func (r *memRepo) update(id int64, call string, fn func(*outbox.Message)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[call]++
	for _, m := range r.msgs {
		if m.ID == id {
			fn(m)
		}
	}
	return nil
}

func (r *memRepo) MarkPublished(_ context.Context, id int64) error {
	return r.update(id, "published", func(m *outbox.Message) {
		now := time.Now()
		m.PublishedAt = &now
	})
}

func (r *memRepo) MarkFailed(_ context.Context, id int64, reason string, next time.Time) error {
	return r.update(id, "failed", func(m *outbox.Message) {
		m.RetryCount++
		m.LastError = &reason
		m.NextRetryAt = &next
	})
}

func (r *memRepo) MarkDead(_ context.Context, id int64, reason string) error {
	return r.update(id, "dead", func(m *outbox.Message) {
		now := time.Now()
		m.DeadLetteredAt = &now
		m.DeadLetterReason = &reason
	})
}

func (r *memRepo) DeleteOld(_ context.Context, olderThan time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	kept := r.msgs[:0]
	var n int64
	for _, m := range r.msgs {
		if m.PublishedAt != nil && m.PublishedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, m)
	}
	r.msgs = kept
	return n, nil
}

func (r *memRepo) count(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[call]
}

// recordingPublisher fails for the routing keys in failOn, or for all keys
// when failAll is set.
type recordingPublisher struct {
	mu      sync.Mutex
	keys    []string
	corrIDs []string
	failOn  map[string]bool
	failAll bool
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAll || p.failOn[routingKey] {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, routingKey)
	p.corrIDs = append(p.corrIDs, observability.CorrelationIDFromContext(ctx))
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func enqueue(t *testing.T, repo *memRepo, routingKey string) *outbox.Message {
	t.Helper()
	msg, err := outbox.NewMessage(outbox.Envelope{
		EventID:       uuid.New(),
		AggregateType: "job",
		AggregateID:   "J-1",
		RoutingKey:    routingKey,
		Metadata:      outbox.Metadata{CorrelationID: "corr-" + routingKey},
	}, map[string]string{"job_id": "J-1"})
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), msg))
	return msg
}

func TestProcessor_RelaysInOrder(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	p := outbox.NewProcessor(repo, pub, outbox.DefaultProcessorConfig(), nil)

	enqueue(t, repo, "fieldsync.job.scheduled")
	enqueue(t, repo, "fieldsync.job.reconciled")

	require.NoError(t, p.ProcessOnce(context.Background()))

	assert.Equal(t, []string{"fieldsync.job.scheduled", "fieldsync.job.reconciled"}, pub.published())
	assert.Equal(t, []string{"corr-fieldsync.job.scheduled", "corr-fieldsync.job.reconciled"}, pub.corrIDs)
	assert.Equal(t, 2, repo.count("published"))

	stats := p.GetStats()
	assert.Equal(t, uint64(2), stats.PublishedCount)
	require.NotNil(t, stats.LastProcessedAt)
	require.NotNil(t, stats.OldestMessageAt)
	assert.GreaterOrEqual(t, stats.LagSeconds, 0.0)
}

func TestProcessor_FailureSchedulesRetry(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{failOn: map[string]bool{"fieldsync.job.sync_failed": true}}
	cfg := outbox.DefaultProcessorConfig()
	cfg.RetryBackoffBase = time.Hour
	cfg.RetryBackoffMax = 2 * time.Hour
	p := outbox.NewProcessor(repo, pub, cfg, nil)

	enqueue(t, repo, "fieldsync.job.scheduled")
	failing := enqueue(t, repo, "fieldsync.job.sync_failed")

	require.NoError(t, p.ProcessOnce(context.Background()))
	require.NoError(t, p.ProcessOnce(context.Background()))

	assert.Equal(t, 1, repo.count("failed"), "second pass waits for next_retry_at")
	assert.Equal(t, 1, failing.RetryCount)
	require.NotNil(t, failing.NextRetryAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *failing.NextRetryAt, time.Minute)

	stats := p.GetStats()
	assert.Equal(t, uint64(1), stats.PublishedCount)
	assert.Equal(t, uint64(1), stats.FailedCount)
	assert.Equal(t, "broker unavailable", stats.LastError)
}

func TestProcessor_DeadLettersOnLastAttempt(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		priorTries int
		wantDead   bool
	}{
		{name: "single attempt allowed", maxRetries: 1, wantDead: true},
		{name: "retries remain", maxRetries: 3, priorTries: 1},
		{name: "final attempt", maxRetries: 3, priorTries: 2, wantDead: true},
		{name: "no retries configured", maxRetries: 0, wantDead: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			cfg := outbox.DefaultProcessorConfig()
			cfg.MaxRetries = tt.maxRetries
			p := outbox.NewProcessor(repo, &recordingPublisher{failAll: true}, cfg, nil)

			msg := enqueue(t, repo, "fieldsync.job.unscheduled")
			msg.RetryCount = tt.priorTries

			require.NoError(t, p.ProcessOnce(context.Background()))
			if tt.wantDead {
				assert.Equal(t, 1, repo.count("dead"))
				assert.Equal(t, uint64(1), p.GetStats().DeadCount)
			} else {
				assert.Equal(t, 1, repo.count("failed"))
				assert.Zero(t, repo.count("dead"))
			}
		})
	}
}

func TestProcessor_ReadErrorIsReturned(t *testing.T) {
	repo := newMemRepo()
	repo.readErr = errors.New("database locked")
	p := outbox.NewProcessor(repo, &recordingPublisher{}, outbox.DefaultProcessorConfig(), nil)

	assert.EqualError(t, p.ProcessOnce(context.Background()), "database locked")
	assert.NotNil(t, p.GetStats().LastErrorAt)
}

func TestProcessor_StartStop(t *testing.T) {
	repo := newMemRepo()
	pub := &recordingPublisher{}
	cfg := outbox.DefaultProcessorConfig()
	cfg.PollInterval = 5 * time.Millisecond
	p := outbox.NewProcessor(repo, pub, cfg, nil)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())
	assert.True(t, p.GetStats().IsRunning)

	enqueue(t, repo, "fieldsync.job.scheduled")
	assert.Eventually(t, func() bool { return len(pub.published()) == 1 }, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.False(t, p.IsRunning())
}

func TestProcessor_PublishRateSpacesMessages(t *testing.T) {
	repo := newMemRepo()
	cfg := outbox.DefaultProcessorConfig()
	cfg.PublishRate = 20
	p := outbox.NewProcessor(repo, &recordingPublisher{}, cfg, nil)

	for range 3 {
		enqueue(t, repo, "fieldsync.job.reconciled")
	}
	start := time.Now()
	require.NoError(t, p.ProcessOnce(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestProcessor_MetricsByStatus(t *testing.T) {
	repo := newMemRepo()
	metrics := observability.NewInMemoryMetrics()
	pub := &recordingPublisher{failOn: map[string]bool{"fieldsync.job.sync_failed": true}}
	p := outbox.NewProcessor(repo, pub, outbox.DefaultProcessorConfig(), nil).WithMetrics(metrics)

	enqueue(t, repo, "fieldsync.job.scheduled")
	enqueue(t, repo, "fieldsync.job.sync_failed")
	require.NoError(t, p.ProcessOnce(context.Background()))

	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricEventsPublished,
		observability.T("routing_key", "fieldsync.job.scheduled"), observability.T("status", "published")))
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricEventsPublished,
		observability.T("routing_key", "fieldsync.job.sync_failed"), observability.T("status", "failed")))
}

func TestProcessor_Cleanup(t *testing.T) {
	repo := newMemRepo()
	p := outbox.NewProcessor(repo, &recordingPublisher{}, outbox.DefaultProcessorConfig(), nil)

	old := enqueue(t, repo, "fieldsync.job.scheduled")
	fresh := enqueue(t, repo, "fieldsync.job.scheduled")
	monthAgo := time.Now().Add(-30 * 24 * time.Hour)
	now := time.Now()
	old.PublishedAt = &monthAgo
	fresh.PublishedAt = &now

	n, err := p.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
