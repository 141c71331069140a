// Package numeric holds the small numerical kernels used by the detectors.
package numeric

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrTooFewPoints is returned when fewer than two defined observations are available.
var ErrTooFewPoints = errors.New("numeric: too few defined points")

// LowessConfig controls the local regression.
type LowessConfig struct {
	// Frac is the share of defined points used in each local fit.
	Frac float64
	// Iterations is the number of robustifying passes after the first fit.
	Iterations int
}

// Lowess smooths y against x with tricube-weighted local linear fits and bisquare
// robustness passes. x must be strictly increasing. NaN entries of y never enter a
// fit but still receive an estimate from their neighbours; an estimate that cannot be
// formed is NaN.
func Lowess(x, y []float64, cfg LowessConfig) ([]float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("numeric: lowess length mismatch %d != %d", len(x), len(y))
	}

	st := &lowessState{}
	for i, v := range y {
		if math.IsNaN(v) {
			continue
		}
		st.xs = append(st.xs, x[i])
		st.ys = append(st.ys, v)
	}
	n := len(st.xs)
	if n < 2 {
		return nil, ErrTooFewPoints
	}

	st.k = int(cfg.Frac*float64(n) + 1e-10)
	if st.k < 2 {
		st.k = 2
	}
	if st.k > n {
		st.k = n
	}
	st.span = st.xs[n-1] - st.xs[0]
	st.buf = make([]float64, st.k)
	st.rw = make([]float64, n)
	for i := range st.rw {
		st.rw[i] = 1
	}

	iters := cfg.Iterations
	if iters < 0 {
		iters = 0
	}
	fit := make([]float64, n)
	for it := 0; ; it++ {
		for j := 0; j < n; j++ {
			v, ok := st.at(st.xs[j])
			if !ok {
				v = st.ys[j]
			}
			fit[j] = v
		}
		if it == iters || !st.reweight(fit) {
			break
		}
	}

	out := make([]float64, len(x))
	pos := 0
	for i := range x {
		if !math.IsNaN(y[i]) {
			out[i] = fit[pos]
			pos++
			continue
		}
		v, ok := st.at(x[i])
		if !ok {
			v = math.NaN()
		}
		out[i] = v
	}
	return out, nil
}

type lowessState struct {
	xs, ys []float64
	rw     []float64 // robustness weights
	buf    []float64
	k      int
	span   float64
}

// at evaluates the local linear fit at x0 using the k nearest defined points.
func (s *lowessState) at(x0 float64) (float64, bool) {
	n := len(s.xs)
	lo := sort.SearchFloat64s(s.xs, x0)
	left, right := lo, lo-1
	for right-left+1 < s.k {
		canL := left > 0
		canR := right < n-1
		if canL && (!canR || x0-s.xs[left-1] <= s.xs[right+1]-x0) {
			left--
		} else {
			right++
		}
	}

	h := math.Max(x0-s.xs[left], s.xs[right]-x0)
	if h <= 0 {
		return 0, false
	}
	h9, h1 := 0.999*h, 0.001*h

	w := s.buf[:right-left+1]
	sw := 0.0
	for j := left; j <= right; j++ {
		r := math.Abs(s.xs[j] - x0)
		wj := 0.0
		if r <= h9 {
			if r > h1 {
				q := r / h
				q = 1 - q*q*q
				wj = q * q * q
			} else {
				wj = 1
			}
			wj *= s.rw[j]
		}
		w[j-left] = wj
		sw += wj
	}
	if sw <= 0 {
		return 0, false
	}

	a := 0.0
	for j := range w {
		w[j] /= sw
		a += w[j] * s.xs[left+j]
	}
	b := 0.0
	for j := range w {
		d := s.xs[left+j] - a
		b += w[j] * d * d
	}
	if math.Sqrt(b) > 0.001*s.span {
		c := (x0 - a) / b
		for j := range w {
			w[j] *= c*(s.xs[left+j]-a) + 1
		}
	}

	yhat := 0.0
	for j := range w {
		yhat += w[j] * s.ys[left+j]
	}
	return yhat, true
}

// reweight updates the bisquare robustness weights. It reports false when the
// residuals are already negligible and further passes would not change the fit.
func (s *lowessState) reweight(fit []float64) bool {
	res := make([]float64, len(fit))
	sum := 0.0
	for i := range fit {
		res[i] = math.Abs(s.ys[i] - fit[i])
		sum += res[i]
	}
	cmad := 6 * Median(res)
	if cmad == 0 || cmad < 1e-7*sum/float64(len(res)) {
		return false
	}

	c9, c1 := 0.999*cmad, 0.001*cmad
	for i, r := range res {
		switch {
		case r <= c1:
			s.rw[i] = 1
		case r <= c9:
			u := r / cmad
			u = 1 - u*u
			s.rw[i] = u * u
		default:
			s.rw[i] = 0
		}
	}
	return true
}

// Median returns the median of the non-NaN entries of x, or NaN if there are none.
func Median(x []float64) float64 {
	vals := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	m := len(vals) / 2
	if len(vals)%2 == 0 {
		return (vals[m-1] + vals[m]) / 2
	}
	return vals[m]
}
