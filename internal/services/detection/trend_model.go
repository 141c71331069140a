package detection

import (
	"errors"
	"math"
	"time"

	"OutlierScope/internal/domain/models"
	"OutlierScope/pkg/numeric"
)

const secondsPerDay = 86400.0

type seasonality struct {
	name   string
	period float64 // days
	order  int
}

// trendModel is a piecewise-linear trend with Fourier seasonalities, fitted by
// penalized least squares on min-max scaled values.
type trendModel struct {
	tmin, tspan  float64 // seconds, over the fitted points
	changepoints []float64
	seasons      []seasonality
	yMin, yScale float64
	beta         []float64
	sigma        float64 // residual RMS in scaled units
}

// fitTrendModel fits the model to the defined entries of y. x holds seconds since
// the first timestamp and t0 is that timestamp.
func fitTrendModel(t0 time.Time, x, y []float64, opts TrendOptions) (*trendModel, error) {
	used := make([]int, 0, len(y))
	for i, v := range y {
		if !math.IsNaN(v) {
			used = append(used, i)
		}
	}
	if len(used) < 2 {
		return nil, models.FitFailuref("trend.fit", "%d usable points, need at least 2", len(used))
	}

	m := &trendModel{
		tmin:  x[used[0]],
		tspan: x[used[len(used)-1]] - x[used[0]],
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range used {
		lo = math.Min(lo, y[i])
		hi = math.Max(hi, y[i])
	}
	m.yMin, m.yScale = lo, hi-lo
	if m.yScale == 0 {
		m.yScale = 1
	}

	m.placeChangepoints(x, used, opts)
	m.pickSeasonalities(x, used, opts)

	epoch := float64(t0.Unix()) + float64(t0.Nanosecond())/1e9
	rows := make([][]float64, len(used))
	ys := make([]float64, len(used))
	for k, i := range used {
		rows[k] = m.features(x[i], epoch)
		ys[k] = (y[i] - m.yMin) / m.yScale
	}

	penalty := make([]float64, m.width())
	cp := 1 / (opts.ChangepointPriorScale * opts.ChangepointPriorScale)
	sp := 1 / (opts.SeasonalityPriorScale * opts.SeasonalityPriorScale)
	for j := range m.changepoints {
		penalty[2+j] = cp
	}
	for j := 2 + len(m.changepoints); j < len(penalty); j++ {
		penalty[j] = sp
	}

	beta, err := numeric.RidgeSolve(rows, ys, penalty)
	if err != nil {
		if errors.Is(err, numeric.ErrNotPositiveDefinite) {
			return nil, &models.DetectionError{Kind: models.KindFitFailure, Op: "trend.fit", Msg: "design matrix is singular", Err: err}
		}
		return nil, models.FitFailuref("trend.fit", "%v", err)
	}
	m.beta = beta

	ss := 0.0
	for k := range rows {
		r := ys[k] - dot(rows[k], beta)
		ss += r * r
	}
	m.sigma = math.Sqrt(ss / float64(len(rows)))
	return m, nil
}

// placeChangepoints spreads the changepoints uniformly over the first
// ChangepointRange share of the fitted points, never at the first point.
func (m *trendModel) placeChangepoints(x []float64, used []int, opts TrendOptions) {
	hist := int(math.Floor(float64(len(used)) * opts.ChangepointRange))
	n := opts.NChangepoints
	if n+1 > hist {
		n = hist - 1
	}
	if n <= 0 {
		return
	}
	m.changepoints = make([]float64, n)
	for j := 1; j <= n; j++ {
		k := int(math.Round(float64(j) * float64(hist-1) / float64(n)))
		m.changepoints[j-1] = m.scaleT(x[used[k]])
	}
}

func (m *trendModel) pickSeasonalities(x []float64, used []int, opts TrendOptions) {
	spanDays := m.tspan / secondsPerDay
	minGap := math.Inf(1)
	for k := 1; k < len(used); k++ {
		minGap = math.Min(minGap, (x[used[k]]-x[used[k-1]])/secondsPerDay)
	}

	if opts.YearlySeasonality.Enabled(spanDays >= 730) {
		m.seasons = append(m.seasons, seasonality{name: "yearly", period: 365.25, order: 10})
	}
	if opts.WeeklySeasonality.Enabled(spanDays >= 14 && minGap < 7) {
		m.seasons = append(m.seasons, seasonality{name: "weekly", period: 7, order: 3})
	}
	if opts.DailySeasonality.Enabled(spanDays >= 2 && minGap < 1) {
		m.seasons = append(m.seasons, seasonality{name: "daily", period: 1, order: 4})
	}
}

func (m *trendModel) scaleT(sec float64) float64 {
	if m.tspan == 0 {
		return 0
	}
	return (sec - m.tmin) / m.tspan
}

func (m *trendModel) width() int {
	w := 2 + len(m.changepoints)
	for _, s := range m.seasons {
		w += 2 * s.order
	}
	return w
}

// features builds the design row for a point sec seconds after the epoch offset.
func (m *trendModel) features(sec, epoch float64) []float64 {
	row := make([]float64, 0, m.width())
	t := m.scaleT(sec)
	row = append(row, 1, t)
	for _, s := range m.changepoints {
		row = append(row, math.Max(0, t-s))
	}
	days := (epoch + sec) / secondsPerDay
	for _, s := range m.seasons {
		for k := 1; k <= s.order; k++ {
			a := 2 * math.Pi * float64(k) * days / s.period
			row = append(row, math.Sin(a), math.Cos(a))
		}
	}
	return row
}

// predict returns the fitted value and band at every x for a two-sided width.
func (m *trendModel) predict(t0 time.Time, x []float64, width float64) (fitted, lower, upper []float64) {
	epoch := float64(t0.Unix()) + float64(t0.Nanosecond())/1e9
	z := numeric.NormalQuantile((1 + width) / 2)
	half := math.Max(z*m.sigma*m.yScale, 1e-9*m.yScale)

	n := len(x)
	fitted = make([]float64, n)
	lower = make([]float64, n)
	upper = make([]float64, n)
	for i := range x {
		yhat := m.yMin + dot(m.features(x[i], epoch), m.beta)*m.yScale
		fitted[i] = yhat
		lower[i] = yhat - half
		upper[i] = yhat + half
	}
	return fitted, lower, upper
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
