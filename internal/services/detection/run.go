package detection

import (
	"math"
	"time"

	"OutlierScope/internal/domain/models"
	"OutlierScope/internal/domain/service"
	"OutlierScope/pkg/numeric"
)

// workspace is the per-run mutable state. It never outlives a single Detect call.
// Values are held relative to center so fits and tolerances do not depend on a
// constant offset in the input.
type workspace struct {
	times    []time.Time
	x        []float64 // seconds since the first timestamp
	center   float64   // median of the input, subtracted from every value
	original []float64
	working  []float64 // original with excluded points set to NaN
	mask     []bool    // cumulative outliers, only ever grows
}

func newWorkspace(in models.SeriesInput) *workspace {
	n := in.Len()
	w := &workspace{
		times:    in.Timestamps,
		x:        make([]float64, n),
		original: make([]float64, n),
		working:  make([]float64, n),
		mask:     make([]bool, n),
	}
	t0 := in.Timestamps[0]
	for i, ts := range in.Timestamps {
		w.x[i] = ts.Sub(t0).Seconds()
	}
	w.center = numeric.Median(in.Values)
	for i, v := range in.Values {
		w.original[i] = v - w.center
	}
	copy(w.working, w.original)
	return w
}

// restore moves the result bands back to the caller's units.
func (w *workspace) restore(res *models.DetectionResult) {
	for i := range res.Fitted {
		res.Fitted[i] += w.center
		res.Lower[i] += w.center
		res.Upper[i] += w.center
	}
}

// pass is the output of one fit.
type pass struct {
	fitted, lower, upper []float64
	// flagged marks the new outliers of this pass under the strategy's own rule.
	flagged []bool
}

// strategy is one smoothing method plugged into the shared loop.
type strategy interface {
	fit(w *workspace) (*pass, error)
	exclude(w *workspace, p *pass)
	result(w *workspace, p *pass) (*models.DetectionResult, error)
}

// runLoop drives the fit/flag/exclude state machine until it converges,
// exhausts the iteration budget or a fit fails.
func runLoop(in models.SeriesInput, s strategy, observe service.IterationObserver) (*models.DetectionResult, error) {
	w := newWorkspace(in)
	state := models.StateFitting
	iter := 0
	var last *pass

	for state == models.StateFitting {
		p, err := s.fit(w)
		if err != nil {
			if observe != nil {
				observe(service.IterationEvent{Iteration: iter + 1, Outliers: cloneMask(w.mask), State: models.StateFailed})
			}
			return nil, err
		}
		iter++
		last = p

		fresh := countTrue(p.flagged)
		switch {
		case fresh == 0:
			state = models.StateConverged
		default:
			s.exclude(w, p)
			if iter >= in.MaxIterations {
				state = models.StateExhausted
			}
		}
		if observe != nil {
			observe(service.IterationEvent{Iteration: iter, NewOutliers: fresh, Outliers: cloneMask(w.mask), State: state})
		}
	}

	res, err := s.result(w, last)
	if err != nil {
		return nil, err
	}
	w.restore(res)
	res.Iterations = iter
	res.State = state
	return res, nil
}

func countTrue(b []bool) int {
	n := 0
	for _, v := range b {
		if v {
			n++
		}
	}
	return n
}

func cloneMask(m []bool) []bool {
	out := make([]bool, len(m))
	copy(out, m)
	return out
}

// valueRange is max(x) - min(x) over the finite entries of x.
func valueRange(x []float64) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi < lo {
		return 0
	}
	return hi - lo
}
