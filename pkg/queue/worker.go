package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"OutlierScope/pkg/logger"
)

// RedisQueue runs registered jobs from a Redis list with a worker pool.
type RedisQueue struct {
	logger  *logger.Logger
	config  QueueConfig
	backend backend
	jobs    map[string]Job
	now     func() time.Time

	mu        sync.RWMutex
	isRunning bool
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// RedisQueueOption configures RedisQueue.
type RedisQueueOption func(*RedisQueue)

// WithKeyPrefix namespaces every key; the default is "outlier:queue".
func WithKeyPrefix(prefix string) RedisQueueOption {
	return func(r *RedisQueue) {
		if rb, ok := r.backend.(*redisBackend); ok {
			rb.prefix = prefix
		}
	}
}

func NewRedisQueue(lgr *logger.Logger, cfg QueueConfig, client redis.UniversalClient, opts ...RedisQueueOption) *RedisQueue {
	return newQueue(lgr, cfg, newRedisBackend(client, "outlier:queue"), opts...)
}

func newQueue(lgr *logger.Logger, cfg QueueConfig, b backend, opts ...RedisQueueOption) *RedisQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = 24 * time.Hour
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = time.Second
	}
	if cfg.RetryTick <= 0 {
		cfg.RetryTick = time.Second
	}
	if lgr == nil {
		lgr = logger.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &RedisQueue{
		logger:  lgr.With(logger.String("component", "queue")),
		config:  cfg,
		backend: b,
		jobs:    make(map[string]Job),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterJob registers a handler; it must be called before Start.
func (r *RedisQueue) RegisterJob(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Type()]; exists {
		r.logger.Warn("job already registered", logger.String("type", job.Type()))
		return
	}
	r.jobs[job.Type()] = job
	r.logger.Info("job registered", logger.String("type", job.Type()))
}

// Start pings Redis and launches the workers and the retry promoter.
func (r *RedisQueue) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return ErrAlreadyActive
	}

	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()
	if err := r.backend.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	r.isRunning = true
	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.wg.Add(1)
	go r.retryProcessor()
	r.logger.Info("redis queue started", logger.Int("workers", r.config.Workers))
	return nil
}

// Stop cancels in-flight work and waits for the workers or ctx.
func (r *RedisQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		r.logger.Warn("timeout waiting for queue workers", logger.Error(ctx.Err()))
		return fmt.Errorf("timeout: %w", ctx.Err())
	case <-done:
		r.logger.Info("redis queue stopped gracefully")
		return nil
	}
}

// Enqueue stores a queued status record and pushes the message. It returns the job id.
func (r *RedisQueue) Enqueue(ctx context.Context, jobType string, payload any) (string, error) {
	r.mu.RLock()
	running := r.isRunning
	_, known := r.jobs[jobType]
	r.mu.RUnlock()
	if !running {
		return "", ErrNotRunning
	}
	if !known {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, jobType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	now := r.now()
	msg := Message{ID: uuid.NewString(), Type: jobType, Payload: raw, Timestamp: now}
	st := Status{ID: msg.ID, Type: jobType, State: StateQueued, CreatedAt: now, UpdatedAt: now}
	if err := r.saveStatus(ctx, &st); err != nil {
		return "", err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	if err := r.backend.Push(ctx, data); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Status returns the record for id or ErrJobNotFound.
func (r *RedisQueue) Status(ctx context.Context, id string) (*Status, error) {
	data, err := r.backend.LoadStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode status %s: %w", id, err)
	}
	return &st, nil
}

func (r *RedisQueue) saveStatus(ctx context.Context, st *Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	return r.backend.SaveStatus(ctx, st.ID, data, r.config.StatusTTL)
}

func (r *RedisQueue) worker(id int) {
	defer r.wg.Done()
	for r.ctx.Err() == nil {
		data, err := r.backend.Pop(r.ctx, r.config.PopTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || r.ctx.Err() != nil {
				return
			}
			r.logger.Error("pop error", logger.Int("worker_id", id), logger.Error(err))
			r.sleep(time.Second)
			continue
		}
		if data == nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			r.logger.Error("unmarshal message", logger.Error(err))
			continue
		}
		r.processMessage(msg)
	}
}

func (r *RedisQueue) sleep(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.ctx.Done():
	case <-t.C:
	}
}

func (r *RedisQueue) processMessage(msg Message) {
	r.mu.RLock()
	job, exists := r.jobs[msg.Type]
	r.mu.RUnlock()

	st := Status{ID: msg.ID, Type: msg.Type, Attempts: msg.Attempts + 1, CreatedAt: msg.Timestamp}
	if !exists {
		r.logger.Error("no job found", logger.String("type", msg.Type), logger.String("id", msg.ID))
		r.finish(&st, nil, Permanent(fmt.Errorf("%w: %s", ErrUnknownType, msg.Type)), msg)
		return
	}

	st.State, st.UpdatedAt = StateRunning, r.now()
	if err := r.saveStatus(r.ctx, &st); err != nil {
		r.logger.Warn("save running status", logger.String("id", msg.ID), logger.Error(err))
	}

	start := time.Now()
	result, err := r.handle(job, msg.Payload)
	if err != nil && errors.Is(err, context.Canceled) && r.ctx.Err() != nil {
		// Shutdown interrupted the job; put it back for the next process.
		st.State = StateQueued
		_ = r.saveStatus(context.Background(), &st)
		if data, merr := json.Marshal(msg); merr == nil {
			_ = r.backend.Push(context.Background(), data)
		}
		return
	}
	r.logger.Debug("job handled",
		logger.String("id", msg.ID),
		logger.String("type", msg.Type),
		logger.Duration("took", time.Since(start)),
		logger.Bool("ok", err == nil),
	)
	r.finish(&st, result, err, msg)
}

func (r *RedisQueue) handle(job Job, payload json.RawMessage) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panic: %v", p)
		}
	}()
	return job.Handle(r.ctx, payload)
}

func (r *RedisQueue) finish(st *Status, result any, err error, msg Message) {
	ctx := context.Background()
	st.UpdatedAt = r.now()
	switch {
	case err == nil:
		st.State = StateDone
		if result != nil {
			raw, merr := json.Marshal(result)
			if merr != nil {
				st.State, st.Error = StateFailed, fmt.Sprintf("encode result: %v", merr)
				break
			}
			st.Result = raw
		}
	case !IsPermanent(err) && msg.Attempts < r.config.RetryLimit:
		msg.Attempts++
		at := r.now().Add(r.config.RetryDelay * time.Duration(msg.Attempts))
		st.State, st.Error = StateRetrying, err.Error()
		if data, merr := json.Marshal(msg); merr == nil {
			if serr := r.backend.ScheduleRetry(ctx, data, at); serr != nil {
				r.logger.Error("schedule retry", logger.String("id", msg.ID), logger.Error(serr))
			}
		}
		r.logger.Warn("job failed, retry scheduled",
			logger.String("id", msg.ID),
			logger.Int("attempt", msg.Attempts),
			logger.Error(err),
		)
	default:
		st.State, st.Error = StateFailed, err.Error()
		if !IsPermanent(err) {
			r.logger.Error("max retries reached", logger.String("id", msg.ID), logger.Error(err))
			if data, merr := json.Marshal(msg); merr == nil {
				if derr := r.backend.DeadLetter(ctx, data); derr != nil {
					r.logger.Error("dead letter", logger.String("id", msg.ID), logger.Error(derr))
				}
			}
		}
	}
	if serr := r.saveStatus(ctx, st); serr != nil {
		r.logger.Error("save status", logger.String("id", msg.ID), logger.Error(serr))
	}
}

func (r *RedisQueue) retryProcessor() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.RetryTick)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.backend.PromoteDue(r.ctx, r.now()); err != nil && r.ctx.Err() == nil {
				r.logger.Error("promote retries", logger.Error(err))
			}
		}
	}
}

var _ Publisher = (*RedisQueue)(nil)
