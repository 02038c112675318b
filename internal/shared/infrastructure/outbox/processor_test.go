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

	"github.com/felixgeelhaar/lessonpass/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/lessonpass/pkg/observability"
)

// memoryRepository is an in-memory outbox.Repository.
type memoryRepository struct {
	mu           sync.Mutex
	messages     []*outbox.Message
	publishedIDs []int64
	failedIDs    []int64
	deadIDs      []int64
}

func (r *memoryRepository) Save(_ context.Context, msg *outbox.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg.ID = int64(len(r.messages) + 1)
	r.messages = append(r.messages, msg)
	return nil
}

func (r *memoryRepository) SaveBatch(ctx context.Context, msgs []*outbox.Message) error {
	for _, msg := range msgs {
		if err := r.Save(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryRepository) GetUnpublished(_ context.Context, limit int, now time.Time) ([]*outbox.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*outbox.Message
	for _, msg := range r.messages {
		if msg.PublishedAt != nil || msg.DeadLetteredAt != nil {
			continue
		}
		if msg.NextRetryAt != nil && msg.NextRetryAt.After(now) {
			continue
		}
		out = append(out, msg)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memoryRepository) find(id int64) *outbox.Message {
	for _, msg := range r.messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

func (r *memoryRepository) MarkPublished(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishedIDs = append(r.publishedIDs, id)
	r.find(id).PublishedAt = &at
	return nil
}

func (r *memoryRepository) MarkFailed(_ context.Context, id int64, errMsg string, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedIDs = append(r.failedIDs, id)
	msg := r.find(id)
	msg.RetryCount++
	msg.LastError = &errMsg
	msg.NextRetryAt = &next
	return nil
}

func (r *memoryRepository) MarkDead(_ context.Context, id int64, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deadIDs = append(r.deadIDs, id)
	msg := r.find(id)
	msg.DeadLetteredAt = &at
	msg.DeadLetterReason = &reason
	return nil
}

func (r *memoryRepository) DeleteOld(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	keys    []string
	failFor map[string]bool
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{failFor: map[string]bool{}}
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFor[routingKey] {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

func message(routingKey string) *outbox.Message {
	return &outbox.Message{
		EventID:       uuid.New(),
		AggregateType: "subscription",
		AggregateID:   uuid.New(),
		RoutingKey:    routingKey,
		Payload:       []byte(`{"data":{}}`),
		CreatedAt:     time.Now(),
	}
}

func TestProcessor_ProcessOnce(t *testing.T) {
	repo := &memoryRepository{}
	pub := newRecordingPublisher()
	metrics := observability.NewInMemoryMetrics()
	p := outbox.NewProcessor(repo, pub, outbox.DefaultProcessorConfig(), nil, metrics)

	require.NoError(t, repo.Save(context.Background(), message("enrollment.subscription.activated")))
	require.NoError(t, repo.Save(context.Background(), message("enrollment.lesson.redeemed")))

	require.NoError(t, p.ProcessOnce(context.Background()))

	assert.Equal(t, 2, pub.count())
	assert.Len(t, repo.publishedIDs, 2)
	assert.Equal(t, int64(1), metrics.GetCounter(observability.MetricEventsPublished,
		observability.T("routing_key", "enrollment.lesson.redeemed")))

	stats := p.GetStats()
	assert.Equal(t, uint64(2), stats.PublishedCount)
	assert.NotNil(t, stats.LastProcessedAt)
	assert.NotNil(t, stats.OldestMessageAt)

	require.NoError(t, p.ProcessOnce(context.Background()))
	assert.Equal(t, 2, pub.count(), "published messages are not relayed twice")
}

func TestProcessor_PublishFailureSchedulesRetry(t *testing.T) {
	repo := &memoryRepository{}
	pub := newRecordingPublisher()
	pub.failFor["payments.payment.failed"] = true
	p := outbox.NewProcessor(repo, pub, outbox.DefaultProcessorConfig(), nil, nil)

	require.NoError(t, repo.Save(context.Background(), message("payments.payment.succeeded")))
	failing := message("payments.payment.failed")
	require.NoError(t, repo.Save(context.Background(), failing))

	require.NoError(t, p.ProcessOnce(context.Background()))

	assert.Equal(t, 1, pub.count())
	assert.Equal(t, []int64{failing.ID}, repo.failedIDs)
	require.NotNil(t, failing.NextRetryAt)
	assert.True(t, failing.NextRetryAt.After(time.Now()))

	stats := p.GetStats()
	assert.Equal(t, uint64(1), stats.FailedCount)
	assert.Equal(t, "broker unavailable", stats.LastError)
}

func TestProcessor_DeadLettersAfterMaxRetries(t *testing.T) {
	repo := &memoryRepository{}
	pub := newRecordingPublisher()
	pub.failFor["payments.refund.issued"] = true
	cfg := outbox.DefaultProcessorConfig()
	cfg.MaxRetries = 1
	p := outbox.NewProcessor(repo, pub, cfg, nil, nil)

	require.NoError(t, repo.Save(context.Background(), message("payments.refund.issued")))
	require.NoError(t, p.ProcessOnce(context.Background()))

	assert.Empty(t, repo.failedIDs)
	assert.Len(t, repo.deadIDs, 1)
	assert.Equal(t, uint64(1), p.GetStats().DeadCount)
}

func TestProcessor_StartStop(t *testing.T) {
	repo := &memoryRepository{}
	pub := newRecordingPublisher()
	p := outbox.NewProcessor(repo, pub, outbox.ProcessorConfig{
		PollInterval:     5 * time.Millisecond,
		BatchSize:        10,
		MaxRetries:       3,
		RetryBackoffBase: time.Millisecond,
		RetryBackoffMax:  10 * time.Millisecond,
	}, nil, nil)

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())

	require.NoError(t, repo.Save(context.Background(), message("enrollment.subscription.booked")))
	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.False(t, p.IsRunning())
	assert.False(t, p.GetStats().IsRunning)
}
