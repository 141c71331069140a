package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRetry struct {
	data []byte
	at   time.Time
}

type memBackend struct {
	mu      sync.Mutex
	ch      chan []byte
	retries []memRetry
	dead    [][]byte
	status  map[string][]byte
}

func newMemBackend() *memBackend {
	return &memBackend{ch: make(chan []byte, 64), status: map[string][]byte{}}
}

func (m *memBackend) Ping(context.Context) error { return nil }

func (m *memBackend) Push(_ context.Context, data []byte) error {
	m.ch <- data
	return nil
}

func (m *memBackend) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case d := <-m.ch:
		return d, nil
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *memBackend) ScheduleRetry(_ context.Context, data []byte, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = append(m.retries, memRetry{data: data, at: at})
	return nil
}

func (m *memBackend) PromoteDue(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.retries[:0]
	n := 0
	for _, r := range m.retries {
		if r.at.After(now) {
			kept = append(kept, r)
			continue
		}
		m.ch <- r.data
		n++
	}
	m.retries = kept
	return n, nil
}

func (m *memBackend) DeadLetter(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = append(m.dead, data)
	return nil
}

func (m *memBackend) deadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dead)
}

func (m *memBackend) SaveStatus(_ context.Context, id string, data []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = data
	return nil
}

func (m *memBackend) LoadStatus(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.status[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return d, nil
}

type funcJob struct {
	typ string
	fn  func(json.RawMessage) (any, error)
}

func (j funcJob) Type() string { return j.typ }
func (j funcJob) Handle(_ context.Context, p json.RawMessage) (any, error) { return j.fn(p) }

func startQueue(t *testing.T, cfg QueueConfig, jobs ...Job) (*RedisQueue, *memBackend) {
	t.Helper()
	b := newMemBackend()
	if cfg.PopTimeout == 0 {
		cfg.PopTimeout = 10 * time.Millisecond
	}
	if cfg.RetryTick == 0 {
		cfg.RetryTick = 5 * time.Millisecond
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	q := newQueue(nil, cfg, b)
	for _, j := range jobs {
		q.RegisterJob(j)
	}
	require.NoError(t, q.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q, b
}

func waitState(t *testing.T, q *RedisQueue, id string, want State) *Status {
	t.Helper()
	var st *Status
	require.Eventually(t, func() bool {
		s, err := q.Status(context.Background(), id)
		if err != nil {
			return false
		}
		st = s
		return s.State == want
	}, 2*time.Second, 5*time.Millisecond)
	return st
}

func TestJobSucceeds(t *testing.T) {
	job := funcJob{typ: "echo", fn: func(p json.RawMessage) (any, error) {
		var in map[string]int
		if err := json.Unmarshal(p, &in); err != nil {
			return nil, err
		}
		return map[string]int{"doubled": in["n"] * 2}, nil
	}}
	q, _ := startQueue(t, QueueConfig{Workers: 2}, job)

	id, err := q.Enqueue(context.Background(), "echo", map[string]int{"n": 21})
	require.NoError(t, err)
	st := waitState(t, q, id, StateDone)
	assert.JSONEq(t, `{"doubled":42}`, string(st.Result))
	assert.Equal(t, 1, st.Attempts)
}

func TestJobRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	job := funcJob{typ: "flaky", fn: func(json.RawMessage) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("temporary")
		}
		return "ok", nil
	}}
	q, b := startQueue(t, QueueConfig{RetryLimit: 2}, job)

	id, err := q.Enqueue(context.Background(), "flaky", nil)
	require.NoError(t, err)
	st := waitState(t, q, id, StateDone)
	assert.Equal(t, 2, st.Attempts)
	assert.Zero(t, b.deadCount())
}

func TestPermanentFailureSkipsRetryAndDeadLetter(t *testing.T) {
	var calls atomic.Int32
	job := funcJob{typ: "bad", fn: func(json.RawMessage) (any, error) {
		calls.Add(1)
		return nil, Permanent(errors.New("invalid input"))
	}}
	q, b := startQueue(t, QueueConfig{RetryLimit: 3}, job)

	id, err := q.Enqueue(context.Background(), "bad", nil)
	require.NoError(t, err)
	st := waitState(t, q, id, StateFailed)
	assert.Equal(t, "invalid input", st.Error)
	assert.EqualValues(t, 1, calls.Load())
	assert.Zero(t, b.deadCount())
}

func TestExhaustedRetriesGoToDeadLetter(t *testing.T) {
	job := funcJob{typ: "down", fn: func(json.RawMessage) (any, error) {
		panic("backend exploded")
	}}
	q, b := startQueue(t, QueueConfig{RetryLimit: 1}, job)

	id, err := q.Enqueue(context.Background(), "down", nil)
	require.NoError(t, err)
	st := waitState(t, q, id, StateFailed)
	assert.Equal(t, 2, st.Attempts)
	assert.Contains(t, st.Error, "backend exploded")
	assert.Equal(t, 1, b.deadCount())
}

func TestEnqueueErrors(t *testing.T) {
	q := newQueue(nil, QueueConfig{}, newMemBackend())
	_, err := q.Enqueue(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	q, _ = startQueue(t, QueueConfig{})
	_, err = q.Enqueue(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = q.Status(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, q.Start(), ErrAlreadyActive)
}
