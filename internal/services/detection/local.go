package detection

import (
	"errors"
	"math"

	"OutlierScope/internal/domain/models"
	"OutlierScope/internal/domain/service"
	"OutlierScope/pkg/numeric"
)

// LocalDetector flags points whose residual from a LOWESS smooth is unusual
// relative to a centered rolling window of residuals.
type LocalDetector struct {
	observer service.IterationObserver
}

func NewLocalDetector(opts ...DetectorOption) *LocalDetector {
	c := applyDetectorOptions(opts)
	return &LocalDetector{observer: c.observer}
}

func (d *LocalDetector) Detect(in models.SeriesInput) (*models.DetectionResult, error) {
	if err := ValidateSeries(in); err != nil {
		return nil, err
	}
	opts, err := ParseLocalOptions(in.MethodOptions)
	if err != nil {
		return nil, err
	}
	opts = opts.resolveWindow(in.Len())
	return runLoop(in, &localStrategy{opts: opts, tol: 1e-9 * valueRange(in.Values)}, d.observer)
}

type localStrategy struct {
	opts LocalOptions
	tol  float64
}

// localPass keeps the rolling statistics next to the band for inspection.
type localPass struct {
	pass
	residual, rollMean, rollStd []float64
}

func (s *localStrategy) fit(w *workspace) (*pass, error) {
	lp, err := s.fitLocal(w)
	if err != nil {
		return nil, err
	}
	return &lp.pass, nil
}

func (s *localStrategy) fitLocal(w *workspace) (*localPass, error) {
	smooth, err := numeric.Lowess(w.x, w.working, numeric.LowessConfig{
		Frac:       s.opts.SmoothingFraction,
		Iterations: s.opts.RobustIterations,
	})
	if err != nil {
		if errors.Is(err, numeric.ErrTooFewPoints) {
			return nil, models.FitFailuref("local.smooth", "fewer than 2 usable points")
		}
		return nil, models.FitFailuref("local.smooth", "%v", err)
	}

	n := len(smooth)
	residual := make([]float64, n)
	sample := make([]float64, n)
	for i := range smooth {
		residual[i] = math.Abs(w.original[i] - smooth[i])
		if w.mask[i] {
			sample[i] = math.NaN()
		} else {
			sample[i] = residual[i]
		}
	}

	mean, std, err := numeric.RollingMeanStd(sample, s.opts.WindowSize, s.opts.WindowMinPeriods)
	if err != nil {
		return nil, models.FitFailuref("local.rolling", "%v", err)
	}
	mean, okMean := numeric.FillBackwardForward(mean)
	std, okStd := numeric.FillBackwardForward(std)
	if !okMean || !okStd {
		return nil, models.FitFailuref("local.rolling", "no window holds %d valid residuals", max(s.opts.WindowMinPeriods, 2))
	}

	lp := &localPass{residual: residual, rollMean: mean, rollStd: std}
	lp.fitted = smooth
	lp.lower = make([]float64, n)
	lp.upper = make([]float64, n)
	lp.flagged = make([]bool, n)
	for i := range smooth {
		half := s.opts.DeviationThreshold * math.Abs(std[i])
		lp.lower[i] = smooth[i] - half
		lp.upper[i] = smooth[i] + half
		if !w.mask[i] && s.deviates(residual[i], mean[i], std[i]) {
			lp.flagged[i] = true
		}
	}
	return lp, nil
}

// deviates applies the flag rule with a tolerance relative to the spread of the values.
func (s *localStrategy) deviates(res, mean, std float64) bool {
	return math.Abs(res-mean)-s.opts.DeviationThreshold*std > s.tol
}

// exclude grows the mask and rebuilds the working copy from the originals.
func (s *localStrategy) exclude(w *workspace, p *pass) {
	for i, f := range p.flagged {
		if f {
			w.mask[i] = true
		}
	}
	for i, v := range w.original {
		if w.mask[i] {
			w.working[i] = math.NaN()
		} else {
			w.working[i] = v
		}
	}
}

func (s *localStrategy) result(w *workspace, p *pass) (*models.DetectionResult, error) {
	fitted, ok := numeric.FillLinear(p.fitted)
	if !ok {
		return nil, models.FitFailuref("local.result", "smooth is undefined everywhere")
	}
	lower, _ := numeric.FillLinear(p.lower)
	upper, _ := numeric.FillLinear(p.upper)
	return &models.DetectionResult{
		Fitted:  fitted,
		Lower:   lower,
		Upper:   upper,
		Outlier: cloneMask(w.mask),
	}, nil
}
