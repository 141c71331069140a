package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error { return nil }

type memReader struct {
	mu        sync.Mutex
	committed []kafka.Message
}

func (r *memReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *memReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *memReader) Close() error { return nil }

type funcHandler struct {
	topic string
	calls int
	fn    func(ctx context.Context, n int, b []byte) error
}

func (h *funcHandler) Topic() string { return h.topic }

func (h *funcHandler) Handle(ctx context.Context, b []byte) error {
	h.calls++
	return h.fn(ctx, h.calls, b)
}

func testConsumer(t *testing.T, h MessageHandler, dlq messageWriter) (*Consumer, *memReader) {
	t.Helper()
	c := newConsumer(&ConsumerConfig{
		RetryMax:   2,
		BackoffMin: time.Millisecond,
		BackoffMax: 2 * time.Millisecond,
		DLQTopic:   "outlier.requests.dlq",
		BufferSize: 1,
		Registerer: prometheus.NewRegistry(),
	})
	c.dlq = dlq
	c.RegisterHandler(h)
	r := &memReader{}
	c.readers[h.Topic()] = r
	return c, r
}

func TestConsumerRetriesThenCommits(t *testing.T) {
	h := &funcHandler{topic: "in", fn: func(_ context.Context, n int, _ []byte) error {
		if n < 3 {
			return errors.New("transient")
		}
		return nil
	}}
	dlq := &memWriter{}
	c, r := testConsumer(t, h, dlq)

	c.process(&delivery{topic: "in", msg: kafka.Message{Value: []byte("{}"), Offset: 7}})
	assert.Equal(t, 3, h.calls)
	assert.Empty(t, dlq.msgs)
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(7), r.committed[0].Offset)
}

func TestConsumerPermanentErrorGoesToDLQ(t *testing.T) {
	h := &funcHandler{topic: "in", fn: func(context.Context, int, []byte) error {
		return Permanent(errors.New("bad json"))
	}}
	dlq := &memWriter{}
	c, r := testConsumer(t, h, dlq)

	c.process(&delivery{topic: "in", msg: kafka.Message{Value: []byte("nope")}})
	assert.Equal(t, 1, h.calls)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "outlier.requests.dlq", dlq.msgs[0].Topic)
	assert.Equal(t, []byte("nope"), dlq.msgs[0].Value)
	assert.Len(t, r.committed, 1)
}

func TestConsumerDoesNotCommitWhenDLQFails(t *testing.T) {
	h := &funcHandler{topic: "in", fn: func(context.Context, int, []byte) error {
		panic("boom")
	}}
	c, r := testConsumer(t, h, &memWriter{err: errors.New("broker down")})

	c.process(&delivery{topic: "in", msg: kafka.Message{Value: []byte("x")}})
	assert.Equal(t, 3, h.calls, "panics are retried like errors")
	assert.Empty(t, r.committed)
}

func TestRequestIDHook(t *testing.T) {
	var seen string
	h := &funcHandler{topic: "in", fn: func(ctx context.Context, _ int, _ []byte) error {
		seen = RequestIDFromContext(ctx)
		return nil
	}}
	c, _ := testConsumer(t, h, nil)
	c.SetHook(NewHookChain(RequestIDHook(), HookFuncs{}))

	c.process(&delivery{topic: "in", msg: kafka.Message{Headers: []kafka.Header{{Key: RequestIDHeader, Value: []byte("req-1")}}}})
	assert.Equal(t, "req-1", seen)
}

func TestHookChainRecoversPanics(t *testing.T) {
	chain := NewHookChain(HookFuncs{Before: func(context.Context, string, kafka.Message, []byte) (context.Context, kafka.Message, []byte, error) {
		panic("bad hook")
	}})
	_, _, _, err := chain.BeforeHandle(context.Background(), "t", kafka.Message{}, nil)
	assert.ErrorContains(t, err, "hook panic")
	assert.NotPanics(t, func() {
		NewHookChain(HookFuncs{After: func(context.Context, string, kafka.Message, []byte, error) { panic("x") }}).
			AfterHandle(context.Background(), "t", kafka.Message{}, nil, nil)
	})
}

func TestProducerEncodesAndCounts(t *testing.T) {
	w := &memWriter{}
	reg := prometheus.NewRegistry()
	p := newProducer(w, &ProducerConfig{Registerer: reg})

	require.NoError(t, p.PublishMessage(context.Background(), "outlier.results", map[string]int{"n": 1}))
	require.NoError(t, p.PublishBatch(context.Background(), "raw", []Message{
		{Key: []byte("k"), Value: "plain", Headers: map[string]string{"request_id": "r"}},
	}))
	require.Len(t, w.msgs, 2)
	assert.JSONEq(t, `{"n":1}`, string(w.msgs[0].Value))
	assert.Equal(t, "plain", string(w.msgs[1].Value))
	assert.Equal(t, "request_id", w.msgs[1].Headers[0].Key)

	w.err = errors.New("down")
	assert.Error(t, p.Publish(context.Background(), "raw", nil, "x"))

	// a second producer on the same registry reuses the collectors
	assert.NotPanics(t, func() { newProducer(&memWriter{}, &ProducerConfig{Registerer: reg}) })
}

func TestBackoffBounds(t *testing.T) {
	for attempt := 1; attempt < 10; attempt++ {
		d := backoff(10*time.Millisecond, 80*time.Millisecond, attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 80*time.Millisecond)
	}
}
