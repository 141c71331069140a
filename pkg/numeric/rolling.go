package numeric

import (
	"fmt"
	"math"
)

// RollingMeanStd computes a centered moving mean and sample standard deviation.
// For window w the window of index i spans [i-w+1+off, i+off] with off = (w-1)/2,
// clipped to the series. NaN entries are skipped. A mean needs at least minPeriods
// defined samples and a standard deviation additionally needs two; otherwise the
// output is NaN at that index.
func RollingMeanStd(x []float64, window, minPeriods int) (mean, std []float64, err error) {
	if window < 1 {
		return nil, nil, fmt.Errorf("numeric: rolling window must be positive, got %d", window)
	}
	if minPeriods < 1 {
		minPeriods = 1
	}
	if minPeriods > window {
		minPeriods = window
	}

	n := len(x)
	mean = make([]float64, n)
	std = make([]float64, n)
	off := (window - 1) / 2
	for i := 0; i < n; i++ {
		end := i + 1 + off
		start := end - window
		if start < 0 {
			start = 0
		}
		if end > n {
			end = n
		}

		cnt, sum := 0, 0.0
		for _, v := range x[start:end] {
			if !math.IsNaN(v) {
				cnt++
				sum += v
			}
		}
		if cnt < minPeriods {
			mean[i], std[i] = math.NaN(), math.NaN()
			continue
		}
		m := sum / float64(cnt)
		mean[i] = m
		if cnt < 2 {
			std[i] = math.NaN()
			continue
		}
		ss := 0.0
		for _, v := range x[start:end] {
			if !math.IsNaN(v) {
				d := v - m
				ss += d * d
			}
		}
		std[i] = math.Sqrt(ss / float64(cnt-1))
	}
	return mean, std, nil
}

// FillBackwardForward replaces NaN entries with the next defined value and then any
// trailing NaN entries with the previous defined value. It reports false if x has no
// defined value at all.
func FillBackwardForward(x []float64) ([]float64, bool) {
	out := make([]float64, len(x))
	copy(out, x)

	next := math.NaN()
	for i := len(out) - 1; i >= 0; i-- {
		if math.IsNaN(out[i]) {
			out[i] = next
		} else {
			next = out[i]
		}
	}
	if math.IsNaN(next) {
		return out, false
	}

	prev := math.NaN()
	for i := range out {
		if math.IsNaN(out[i]) {
			out[i] = prev
		} else {
			prev = out[i]
		}
	}
	return out, true
}
