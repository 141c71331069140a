package numeric

import (
	"errors"
	"fmt"
	"math"
)

// ErrNotPositiveDefinite is returned when a Cholesky factorization breaks down.
var ErrNotPositiveDefinite = errors.New("numeric: matrix is not positive definite")

// SolveSPD solves a·x = b for a symmetric positive definite a using a Cholesky
// factorization. a is not modified.
func SolveSPD(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	if len(b) != n {
		return nil, fmt.Errorf("numeric: dimension mismatch %d != %d", len(b), n)
	}

	l := make([][]float64, n)
	for i := range l {
		if len(a[i]) != n {
			return nil, fmt.Errorf("numeric: row %d has %d columns, want %d", i, len(a[i]), n)
		}
		l[i] = make([]float64, i+1)
	}
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			s := a[i][j]
			for k := 0; k < j; k++ {
				s -= l[i][k] * l[j][k]
			}
			if i == j {
				if s <= 0 || math.IsNaN(s) {
					return nil, ErrNotPositiveDefinite
				}
				l[i][i] = math.Sqrt(s)
			} else {
				l[i][j] = s / l[j][j]
			}
		}
	}

	// forward: L·z = b
	z := make([]float64, n)
	for i := 0; i < n; i++ {
		s := b[i]
		for k := 0; k < i; k++ {
			s -= l[i][k] * z[k]
		}
		z[i] = s / l[i][i]
	}
	// backward: Lᵀ·x = z
	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		s := z[i]
		for k := i + 1; k < n; k++ {
			s -= l[k][i] * x[k]
		}
		x[i] = s / l[i][i]
	}
	return x, nil
}

// RidgeSolve returns the coefficients minimizing |y - X·β|² + Σ penalty[j]·β[j]².
// Rows of X are observations.
func RidgeSolve(rows [][]float64, y, penalty []float64) ([]float64, error) {
	if len(rows) != len(y) {
		return nil, fmt.Errorf("numeric: %d rows but %d targets", len(rows), len(y))
	}
	p := len(penalty)
	xtx := make([][]float64, p)
	for i := range xtx {
		xtx[i] = make([]float64, p)
		xtx[i][i] = penalty[i]
	}
	xty := make([]float64, p)
	for r, row := range rows {
		if len(row) != p {
			return nil, fmt.Errorf("numeric: row %d has %d columns, want %d", r, len(row), p)
		}
		for i := 0; i < p; i++ {
			if row[i] == 0 {
				continue
			}
			xty[i] += row[i] * y[r]
			for j := 0; j <= i; j++ {
				xtx[i][j] += row[i] * row[j]
			}
		}
	}
	for i := 0; i < p; i++ {
		for j := 0; j < i; j++ {
			xtx[j][i] = xtx[i][j]
		}
	}
	return SolveSPD(xtx, xty)
}
