package numeric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalQuantile(t *testing.T) {
	cases := []struct {
		p, want float64
	}{
		{0.5, 0},
		{0.975, 1.959963984540054},
		{0.995, 2.5758293035489004},
		{0.01, -2.3263478740408408},
		{0.999, 3.090232306167813},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, NormalQuantile(tc.p), 1e-9, "p=%v", tc.p)
	}
	assert.True(t, math.IsInf(NormalQuantile(1), 1))
	assert.True(t, math.IsNaN(NormalQuantile(1.5)))
}

func TestSolveSPD(t *testing.T) {
	a := [][]float64{{4, 2, 0}, {2, 5, 1}, {0, 1, 3}}
	want := []float64{1, -2, 3}
	b := make([]float64, 3)
	for i := range a {
		for j := range a[i] {
			b[i] += a[i][j] * want[j]
		}
	}
	x, err := SolveSPD(a, b)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, x, 1e-12)

	_, err = SolveSPD([][]float64{{1, 2}, {2, 1}}, []float64{1, 1})
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
}

func TestRidgeSolveRecoversLine(t *testing.T) {
	var rows [][]float64
	var y []float64
	for i := 0; i < 20; i++ {
		x := float64(i) / 19
		rows = append(rows, []float64{1, x})
		y = append(y, 3-2*x)
	}
	beta, err := RidgeSolve(rows, y, []float64{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 3, beta[0], 1e-9)
	assert.InDelta(t, -2, beta[1], 1e-9)
}

func TestRollingMeanStdCentered(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6}
	mean, std, err := RollingMeanStd(x, 4, 4)
	require.NoError(t, err)

	// window of index i is [i-2, i+1]
	assert.True(t, math.IsNaN(mean[0]))
	assert.True(t, math.IsNaN(mean[1]))
	assert.InDelta(t, 2.5, mean[2], 1e-12)
	assert.InDelta(t, 3.5, mean[3], 1e-12)
	assert.InDelta(t, 4.5, mean[4], 1e-12)
	assert.True(t, math.IsNaN(mean[5]))
	assert.InDelta(t, math.Sqrt(5.0/3.0), std[2], 1e-12)
}

func TestRollingMeanStdSkipsNaN(t *testing.T) {
	nan := math.NaN()
	x := []float64{1, nan, 3, nan, 5}
	mean, std, err := RollingMeanStd(x, 3, 2)
	require.NoError(t, err)

	assert.True(t, math.IsNaN(mean[0]))
	assert.InDelta(t, 2, mean[1], 1e-12)
	assert.InDelta(t, math.Sqrt2, std[1], 1e-12)
	assert.True(t, math.IsNaN(mean[2]))
}

func TestFillBackwardForward(t *testing.T) {
	nan := math.NaN()
	out, ok := FillBackwardForward([]float64{nan, nan, 2, nan, 4, nan})
	require.True(t, ok)
	assert.Equal(t, []float64{2, 2, 2, 4, 4, 4}, out)

	_, ok = FillBackwardForward([]float64{nan, nan})
	assert.False(t, ok)
}

func TestFillLinear(t *testing.T) {
	nan := math.NaN()
	out, ok := FillLinear([]float64{nan, 1, nan, nan, 4, nan})
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{1, 1, 2, 3, 4, 4}, out, 1e-12)
}

func TestInterpUnordered(t *testing.T) {
	got := Interp([]float64{2.5, 0.5, -1, 9}, []float64{0, 1, 2, 3}, []float64{0, 10, 20, 30})
	assert.InDeltaSlice(t, []float64{25, 5, 0, 30}, got, 1e-12)
}

func TestLowessReproducesLine(t *testing.T) {
	n := 50
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		y[i] = 2 + 0.5*x[i]
	}
	y[10] = math.NaN()

	got, err := Lowess(x, y, LowessConfig{Frac: 0.2})
	require.NoError(t, err)
	for i := range got {
		assert.InDelta(t, 2+0.5*x[i], got[i], 1e-9, "index %d", i)
	}
}

func TestLowessResistsSpike(t *testing.T) {
	n := 60
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		y[i] = math.Sin(x[i] / 10)
	}
	y[30] += 10

	got, err := Lowess(x, y, LowessConfig{Frac: 0.3, Iterations: 3})
	require.NoError(t, err)
	assert.InDelta(t, math.Sin(3), got[30], 0.1)
}

func TestLowessTooFewPoints(t *testing.T) {
	nan := math.NaN()
	_, err := Lowess([]float64{0, 1, 2}, []float64{nan, 1, nan}, LowessConfig{Frac: 0.5})
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.5, Median([]float64{4, 1, 3, 2}))
	assert.Equal(t, 3.0, Median([]float64{5, math.NaN(), 3, 1}))
	assert.True(t, math.IsNaN(Median(nil)))
}
