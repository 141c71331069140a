package repository

import (
	"context"
	"errors"
	"time"

	"OutlierScope/internal/domain/models"
)

// ErrRunNotFound is returned by ResultStore.GetRun for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// ResultStore persists completed runs.
type ResultStore interface {
	SaveRun(ctx context.Context, rec models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	ListRuns(ctx context.Context, method string, limit int) ([]models.RunSummary, error)
	Health(ctx context.Context) error
}

// ResultPublisher emits detection results for asynchronous callers.
type ResultPublisher interface {
	PublishResult(ctx context.Context, msg models.DetectionMessage) error
	Close() error
}

// Metrics records detection telemetry.
type Metrics interface {
	RecordRun(method, state string, iterations, outliers int, took time.Duration)
	RecordError(kind string)
	RecordCache(result string)
	RecordLatency(op string, seconds float64)
}
