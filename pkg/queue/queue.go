// Package queue is a Redis-backed job queue with per-job status records, delayed
// retries and a dead letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrJobNotFound   = errors.New("queue: job not found")
	ErrNotRunning    = errors.New("queue: not running")
	ErrUnknownType   = errors.New("queue: no job registered for type")
	ErrAlreadyActive = errors.New("queue: already running")
)

// State is the lifecycle of a queued job.
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateRetrying State = "retrying"
	StateDone     State = "done"
	StateFailed   State = "failed"
)

// Status is the record kept for each job id until StatusTTL expires.
type Status struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	State     State           `json:"state"`
	Attempts  int             `json:"attempts"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Message is what travels through the Redis lists.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts"`
	Timestamp time.Time       `json:"ts"`
}

// QueueConfig contains the configuration for the queue
type QueueConfig struct {
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
	StatusTTL  time.Duration
	PopTimeout time.Duration
	RetryTick  time.Duration
}

// Publisher enqueues jobs and reads their status.
type Publisher interface {
	Enqueue(ctx context.Context, jobType string, payload any) (string, error)
	Status(ctx context.Context, id string) (*Status, error)
}

// backend is the storage the queue runs on; redisBackend in production.
type backend interface {
	Ping(ctx context.Context) error
	Push(ctx context.Context, data []byte) error
	// Pop blocks up to timeout; it returns nil, nil when nothing arrived.
	Pop(ctx context.Context, timeout time.Duration) ([]byte, error)
	ScheduleRetry(ctx context.Context, data []byte, at time.Time) error
	// PromoteDue moves retries due at or before now back to the main list.
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	DeadLetter(ctx context.Context, data []byte) error
	SaveStatus(ctx context.Context, id string, data []byte, ttl time.Duration) error
	LoadStatus(ctx context.Context, id string) ([]byte, error)
}
