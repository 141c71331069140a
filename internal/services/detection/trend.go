package detection

import (
	"math"

	"OutlierScope/internal/domain/models"
	"OutlierScope/internal/domain/service"
)

// TrendDetector flags points outside a global confidence band around a
// trend plus seasonality regression.
type TrendDetector struct {
	observer service.IterationObserver
}

// DetectorOption configures a detector.
type DetectorOption func(*detectorConfig)

type detectorConfig struct {
	observer service.IterationObserver
}

// WithObserver reports every completed iteration to fn.
func WithObserver(fn service.IterationObserver) DetectorOption {
	return func(c *detectorConfig) { c.observer = fn }
}

func applyDetectorOptions(opts []DetectorOption) detectorConfig {
	var c detectorConfig
	for _, o := range opts {
		o(&c)
	}
	return c
}

func NewTrendDetector(opts ...DetectorOption) *TrendDetector {
	c := applyDetectorOptions(opts)
	return &TrendDetector{observer: c.observer}
}

func (d *TrendDetector) Detect(in models.SeriesInput) (*models.DetectionResult, error) {
	if err := ValidateSeries(in); err != nil {
		return nil, err
	}
	opts, err := ParseTrendOptions(in.MethodOptions)
	if err != nil {
		return nil, err
	}
	return runLoop(in, &trendStrategy{opts: opts}, d.observer)
}

type trendStrategy struct {
	opts TrendOptions
}

func (s *trendStrategy) fit(w *workspace) (*pass, error) {
	model, err := fitTrendModel(w.times[0], w.x, w.working, s.opts)
	if err != nil {
		return nil, err
	}
	p := &pass{flagged: make([]bool, len(w.x))}
	p.fitted, p.lower, p.upper = model.predict(w.times[0], w.x, s.opts.BandWidth)

	// points already removed from the working copy are not candidates
	for i, v := range w.original {
		if math.IsNaN(w.working[i]) {
			continue
		}
		p.flagged[i] = v < p.lower[i] || v > p.upper[i]
	}
	return p, nil
}

// exclude removes the outliers accumulated before this pass from the working
// copy and only then records the new ones, so fresh outliers leave the fit one
// iteration later.
func (s *trendStrategy) exclude(w *workspace, p *pass) {
	for i, m := range w.mask {
		if m {
			w.working[i] = math.NaN()
		}
	}
	for i, f := range p.flagged {
		if f {
			w.mask[i] = true
		}
	}
}

func (s *trendStrategy) result(w *workspace, p *pass) (*models.DetectionResult, error) {
	return &models.DetectionResult{
		Fitted:  p.fitted,
		Lower:   p.lower,
		Upper:   p.upper,
		Outlier: cloneMask(w.mask),
	}, nil
}
