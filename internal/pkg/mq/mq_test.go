package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestMatchRoutingKey(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"inventory.rollback.*", "inventory.rollback.shipment_lost", true},
		{"inventory.rollback.*", "inventory.rollback", false},
		{"inventory.rollback.*", "inventory.rollback.a.b", false},
		{"inventory.rollback.*", "inventory.retry.rollback", false},
		{"inventory.#", "inventory", true},
		{"inventory.#", "inventory.rollback.order_cancelled", true},
		{"#.lost", "inventory.rollback.lost", true},
		{"*.rollback.#", "inventory.rollback", true},
		{"product.update.sync", "product.update.sync", true},
		{"product.update.sync", "product.update", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchRoutingKey(tt.pattern, tt.key), "%s ~ %s", tt.pattern, tt.key)
	}
}

func TestFilterTopics(t *testing.T) {
	topics := []string{
		"inventory.rollback.shipment_lost",
		"inventory.dlq.rollback",
		"inventory.rollback.order_cancelled",
		"product.update.sync",
		"inventory.rollback.shipment_lost",
	}
	assert.Equal(t, []string{
		"inventory.rollback.order_cancelled",
		"inventory.rollback.shipment_lost",
	}, FilterTopics("inventory.rollback.*", topics))
}

func TestMergeTopics(t *testing.T) {
	resolved := []string{"inventory.rollback.order_cancelled", "product.update.sync"}
	configured := []string{
		"inventory.rollback.shipment_lost",
		"inventory.rollback.order_cancelled",
		"inventory.retry.rollback",
	}

	assert.Equal(t, []string{
		"inventory.rollback.order_cancelled",
		"inventory.rollback.shipment_lost",
	}, MergeTopics("inventory.rollback.*", resolved, configured), "configured topics are kept even when metadata already has matches")

	assert.Equal(t, []string{"inventory.rollback.order_cancelled"}, MergeTopics("inventory.rollback.*", resolved, nil))
	assert.Empty(t, MergeTopics("inventory.rollback.*", nil, nil))
}

func TestEnsureTopics_NothingToCreate(t *testing.T) {
	assert.NoError(t, EnsureTopics(context.Background(), nil, nil, 1, 1))
	assert.Error(t, EnsureTopics(context.Background(), nil, []string{"inventory.rollback.shipment_lost"}, 1, 1))
}

func TestAttemptHeader(t *testing.T) {
	assert.Equal(t, 1, Attempt(kafka.Message{}))
	assert.Equal(t, 1, Attempt(kafka.Message{Headers: []kafka.Header{{Key: HeaderAttempt, Value: []byte("zero")}}}))
	assert.Equal(t, 3, Attempt(kafka.Message{Headers: []kafka.Header{{Key: HeaderAttempt, Value: []byte("3")}}}))
}

func TestFailureHandler_RetrySchedulesDelayedRedelivery(t *testing.T) {
	retry, dlt := &recordingWriter{}, &recordingWriter{}
	h := NewFailureHandler(retry, dlt, MaxAttemptsPolicy{MaxAttempts: 3}, 5*time.Second)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	msg := kafka.Message{
		Topic:   "inventory.rollback.shipment_lost",
		Key:     []byte("42"),
		Value:   []byte(`{"orderId":42}`),
		Headers: []kafka.Header{{Key: HeaderMessageID, Value: []byte("m-1")}},
	}
	decision, err := h.Handle(context.Background(), msg, errors.New("db down"))

	require.NoError(t, err)
	assert.Equal(t, DecisionRetry, decision)
	assert.Empty(t, dlt.Messages())
	require.Len(t, retry.Messages(), 1)

	out := retry.Messages()[0]
	assert.Equal(t, msg.Value, out.Value)
	assert.Equal(t, "2", HeaderValue(out.Headers, HeaderAttempt))
	assert.Equal(t, msg.Topic, HeaderValue(out.Headers, HeaderRealTopic))
	assert.Equal(t, "m-1", HeaderValue(out.Headers, HeaderMessageID))
	assert.Equal(t, fixed.Add(5*time.Second).Format(time.RFC3339Nano), HeaderValue(out.Headers, HeaderDelayTimestamp))
}

func TestFailureHandler_DeadLettersAfterMaxAttempts(t *testing.T) {
	retry, dlt := &recordingWriter{}, &recordingWriter{}
	h := NewFailureHandler(retry, dlt, MaxAttemptsPolicy{MaxAttempts: 3}, time.Second)

	msg := kafka.Message{
		Topic:     "inventory.rollback.order_cancelled",
		Partition: 2,
		Offset:    17,
		Value:     []byte(`{"orderId":7}`),
		Headers:   []kafka.Header{{Key: HeaderAttempt, Value: []byte("3")}},
	}
	decision, err := h.Handle(context.Background(), msg, errors.New("still failing"))

	require.NoError(t, err)
	assert.Equal(t, DecisionDeadLetter, decision)
	assert.Empty(t, retry.Messages())
	require.Len(t, dlt.Messages(), 1)

	out := dlt.Messages()[0]
	assert.Equal(t, msg.Topic, HeaderValue(out.Headers, HeaderOriginalTopic))
	assert.Equal(t, "2", HeaderValue(out.Headers, HeaderOriginalPartition))
	assert.Equal(t, "17", HeaderValue(out.Headers, HeaderOriginalOffset))
	assert.Equal(t, "still failing", HeaderValue(out.Headers, HeaderExceptionMessage))
	assert.NotEmpty(t, HeaderValue(out.Headers, HeaderExceptionFqcn))
}

func TestFailureHandler_PoisonGoesStraightToDeadLetter(t *testing.T) {
	retry, dlt := &recordingWriter{}, &recordingWriter{}
	h := NewFailureHandler(retry, dlt, MaxAttemptsPolicy{MaxAttempts: 5}, time.Second)

	decision, err := h.Handle(context.Background(), kafka.Message{Topic: "t"}, fmt.Errorf("%w: bad json", ErrPoisonMessage))

	require.NoError(t, err)
	assert.Equal(t, DecisionDeadLetter, decision)
	assert.Len(t, dlt.Messages(), 1)
}

func TestFailureHandler_WriterErrorIsReturned(t *testing.T) {
	retry := &recordingWriter{err: errors.New("broker unavailable")}
	h := NewFailureHandler(retry, &recordingWriter{}, MaxAttemptsPolicy{MaxAttempts: 5}, time.Second)

	_, err := h.Handle(context.Background(), kafka.Message{Topic: "t"}, errors.New("x"))

	assert.ErrorContains(t, err, "broker unavailable")
}

func TestCELPolicy(t *testing.T) {
	p, err := NewCELPolicy("", 3)
	require.NoError(t, err)
	assert.Equal(t, DecisionRetry, p.Decide(Failure{Topic: "t", Attempt: 1, Err: errors.New("x")}))
	assert.Equal(t, DecisionDeadLetter, p.Decide(Failure{Topic: "t", Attempt: 3, Err: errors.New("x")}))
	assert.Equal(t, DecisionDeadLetter, p.Decide(Failure{Topic: "t", Attempt: 1, Err: ErrPoisonMessage}))

	custom, err := NewCELPolicy(`poison || (topic.endsWith("shipment_lost") && attempt >= 2) || attempt >= max_attempts`, 10)
	require.NoError(t, err)
	assert.Equal(t, DecisionDeadLetter, custom.Decide(Failure{Topic: "inventory.rollback.shipment_lost", Attempt: 2}))
	assert.Equal(t, DecisionRetry, custom.Decide(Failure{Topic: "inventory.rollback.order_cancelled", Attempt: 2}))

	byError, err := NewCELPolicy(`error.contains("constraint")`, 10)
	require.NoError(t, err)
	assert.Equal(t, DecisionDeadLetter, byError.Decide(Failure{Err: errors.New("unique constraint violated")}))
	assert.Equal(t, DecisionRetry, byError.Decide(Failure{Err: errors.New("timeout")}))
}

func TestCELPolicy_RejectsInvalidExpressions(t *testing.T) {
	_, err := NewCELPolicy("attempt +", 3)
	assert.Error(t, err)

	_, err = NewCELPolicy("attempt + 1", 3)
	assert.ErrorContains(t, err, "must return bool")
}

type fakeFetcher struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	drained   chan struct{}
}

func newFakeFetcher(msgs ...kafka.Message) *fakeFetcher {
	return &fakeFetcher{queue: msgs, drained: make(chan struct{})}
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeFetcher) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	if len(f.queue) == 0 {
		select {
		case <-f.drained:
		default:
			close(f.drained)
		}
	}
	return nil
}

func TestDelayRelay_ForwardsDueMessagesToRealTopic(t *testing.T) {
	due := time.Now().Add(-time.Second).UTC().Format(time.RFC3339Nano)
	fetcher := newFakeFetcher(
		kafka.Message{Topic: "inventory.retry.rollback", Value: []byte("missing header")},
		kafka.Message{
			Topic: "inventory.retry.rollback",
			Key:   []byte("42"),
			Value: []byte(`{"orderId":42}`),
			Headers: []kafka.Header{
				{Key: HeaderRealTopic, Value: []byte("inventory.rollback.shipment_lost")},
				{Key: HeaderDelayTimestamp, Value: []byte(due)},
				{Key: HeaderAttempt, Value: []byte("2")},
			},
		},
	)

	var mu sync.Mutex
	writers := map[string]*recordingWriter{}
	relay := NewDelayRelay(fetcher, func(topic string) MessageWriter {
		mu.Lock()
		defer mu.Unlock()
		w := &recordingWriter{}
		writers[topic] = w
		return w
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	select {
	case <-fetcher.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not drain the delay topic")
	}
	cancel()
	require.NoError(t, <-done)
	relay.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, writers, "inventory.rollback.shipment_lost")
	forwarded := writers["inventory.rollback.shipment_lost"].Messages()
	require.Len(t, forwarded, 1)
	assert.Equal(t, []byte(`{"orderId":42}`), forwarded[0].Value)
	assert.Equal(t, "2", HeaderValue(forwarded[0].Headers, HeaderAttempt))
	assert.Len(t, fetcher.committed, 2)
}

func TestDelayRelay_WaitsForDueTime(t *testing.T) {
	notDue := time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)
	fetcher := newFakeFetcher(kafka.Message{
		Topic: "inventory.retry.rollback",
		Headers: []kafka.Header{
			{Key: HeaderRealTopic, Value: []byte("inventory.rollback.order_cancelled")},
			{Key: HeaderDelayTimestamp, Value: []byte(notDue)},
		},
	})
	w := &recordingWriter{}
	relay := NewDelayRelay(fetcher, func(string) MessageWriter { return w })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, relay.Run(ctx))

	assert.Empty(t, w.Messages())
	assert.Empty(t, fetcher.committed)
}
