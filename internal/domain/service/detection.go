package service

import (
	"context"

	"OutlierScope/internal/domain/models"
)

// Detector runs one fit/flag/exclude loop over a validated input.
type Detector interface {
	Detect(in models.SeriesInput) (*models.DetectionResult, error)
}

// OutlierDetector validates, dispatches and runs a detection.
type OutlierDetector interface {
	Detect(ctx context.Context, in models.SeriesInput) (*models.DetectionResult, error)
}

// IterationEvent is emitted after every completed fit.
type IterationEvent struct {
	Iteration   int
	NewOutliers int
	Outliers    []bool
	State       models.RunState
}

// IterationObserver receives iteration events. Outliers is a private copy.
type IterationObserver func(IterationEvent)
