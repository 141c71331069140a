package models

import "time"

// Method selects the detector used for a run.
type Method string

const (
	MethodTrend Method = "trend"
	MethodLocal Method = "local"
)

// SupportedMethods lists the closed set of detector names.
var SupportedMethods = []Method{MethodTrend, MethodLocal}

// SeriesInput describes one series and its run configuration.
// It is read-only once built; detectors copy what they mutate.
type SeriesInput struct {
	Timestamps    []time.Time    `validate:"required,min=2"`
	Values        []float64      `validate:"required,min=2"`
	MaxIterations int            `validate:"gt=0"`
	Method        Method
	MethodOptions map[string]any `validate:"-"`
}

// Len returns the number of points.
func (s SeriesInput) Len() int { return len(s.Values) }

// RunState is the state of the fit/flag/exclude loop.
type RunState int

const (
	StateFitting RunState = iota
	StateConverged
	StateExhausted
	StateFailed
)

func (s RunState) String() string {
	switch s {
	case StateFitting:
		return "fitting"
	case StateConverged:
		return "converged"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseRunState is the inverse of RunState.String.
func ParseRunState(s string) RunState {
	switch s {
	case "fitting":
		return StateFitting
	case "converged":
		return StateConverged
	case "exhausted":
		return StateExhausted
	default:
		return StateFailed
	}
}

func (s RunState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *RunState) UnmarshalText(b []byte) error {
	*s = ParseRunState(string(b))
	return nil
}

// DetectionResult holds per-point output of a run. All slices have the input length.
type DetectionResult struct {
	Fitted  []float64 `json:"fitted"`
	Lower   []float64 `json:"lower"`
	Upper   []float64 `json:"upper"`
	Outlier []bool    `json:"outlier"`

	Iterations int      `json:"iterations"`
	State      RunState `json:"state"`
}

// OutlierCount returns the number of flagged points.
func (r *DetectionResult) OutlierCount() int {
	n := 0
	for _, o := range r.Outlier {
		if o {
			n++
		}
	}
	return n
}
