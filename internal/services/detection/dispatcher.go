package detection

import (
	"context"
	"fmt"

	"OutlierScope/internal/domain/models"
	"OutlierScope/internal/domain/service"
)

// Dispatcher validates a series and hands it to the detector registered for its method.
type Dispatcher struct {
	detectors map[models.Method]service.Detector
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDetector registers or replaces the detector for a method.
func WithDetector(m models.Method, d service.Detector) DispatcherOption {
	return func(ds *Dispatcher) { ds.detectors[m] = d }
}

// NewDispatcher registers the trend and local detectors, then applies opts.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{detectors: map[models.Method]service.Detector{
		models.MethodTrend: NewTrendDetector(),
		models.MethodLocal: NewLocalDetector(),
	}}
	for _, o := range opts {
		o(d)
	}
	return d
}

// NewObservedDispatcher is NewDispatcher with both built-in detectors reporting to fn.
func NewObservedDispatcher(fn service.IterationObserver) *Dispatcher {
	return NewDispatcher(
		WithDetector(models.MethodTrend, NewTrendDetector(WithObserver(fn))),
		WithDetector(models.MethodLocal, NewLocalDetector(WithObserver(fn))),
	)
}

// Detect runs the selected detector. The run itself cannot be interrupted, so ctx
// is only checked before it starts.
func (d *Dispatcher) Detect(ctx context.Context, in models.SeriesInput) (*models.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if err := ValidateSeries(in); err != nil {
		return nil, err
	}
	det, ok := d.detectors[in.Method]
	if !ok {
		return nil, models.UnsupportedMethodError(in.Method)
	}
	return det.Detect(in)
}

// Supports reports whether a detector is registered for m.
func (d *Dispatcher) Supports(m models.Method) bool {
	_, ok := d.detectors[m]
	return ok
}

var _ service.OutlierDetector = (*Dispatcher)(nil)
