package numeric

import "math"

// Interp evaluates the piecewise linear interpolant through (xp, fp) at x.
// xp must be increasing. Points left of xp[0] take fp[0] and points right of the
// last knot take its value.
func Interp(x, xp, fp []float64) []float64 {
	out := make([]float64, len(x))
	if len(xp) == 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	last := len(xp) - 1
	j := 0
	for i, v := range x {
		switch {
		case v <= xp[0]:
			out[i] = fp[0]
			continue
		case v >= xp[last]:
			out[i] = fp[last]
			continue
		}
		if j > 0 && xp[j] > v {
			j = 0
		}
		for j < last && xp[j+1] < v {
			j++
		}
		x0, x1 := xp[j], xp[j+1]
		t := (v - x0) / (x1 - x0)
		out[i] = fp[j] + t*(fp[j+1]-fp[j])
	}
	return out
}

// FillLinear replaces NaN entries of y by linear interpolation over the index, with
// constant extrapolation at both ends. It reports false if y has no defined entry.
func FillLinear(y []float64) ([]float64, bool) {
	var xp, fp, missing []float64
	for i, v := range y {
		if math.IsNaN(v) {
			missing = append(missing, float64(i))
			continue
		}
		xp = append(xp, float64(i))
		fp = append(fp, v)
	}
	out := make([]float64, len(y))
	copy(out, y)
	if len(xp) == 0 {
		return out, false
	}
	if len(missing) == 0 {
		return out, true
	}
	vals := Interp(missing, xp, fp)
	for k, xi := range missing {
		out[int(xi)] = vals[k]
	}
	return out, true
}
