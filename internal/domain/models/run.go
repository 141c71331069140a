package models

import "time"

// RunSummary is the persisted header of a completed run.
type RunSummary struct {
	ID         string    `json:"id"`
	Method     string    `json:"method"`
	Length     int       `json:"length"`
	Outliers   int       `json:"outliers"`
	Iterations int       `json:"iterations"`
	State      string    `json:"state"`
	Duration   float64   `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunPoint is one persisted row of a run.
type RunPoint struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
	Fitted    float64   `json:"fitted"`
	Lower     float64   `json:"lower"`
	Upper     float64   `json:"upper"`
	Outlier   bool      `json:"outlier"`
}

// RunRecord is a run with all its points.
type RunRecord struct {
	RunSummary
	Points []RunPoint `json:"points"`
}

// NewRunRecord assembles a record from a successful run.
func NewRunRecord(id string, in SeriesInput, res *DetectionResult, took time.Duration, at time.Time) RunRecord {
	rec := RunRecord{
		RunSummary: RunSummary{
			ID:         id,
			Method:     string(in.Method),
			Length:     in.Len(),
			Outliers:   res.OutlierCount(),
			Iterations: res.Iterations,
			State:      res.State.String(),
			Duration:   float64(took.Microseconds()) / 1000,
			CreatedAt:  at,
		},
		Points: make([]RunPoint, in.Len()),
	}
	for i := range rec.Points {
		rec.Points[i] = RunPoint{
			Timestamp: in.Timestamps[i],
			Value:     in.Values[i],
			Fitted:    res.Fitted[i],
			Lower:     res.Lower[i],
			Upper:     res.Upper[i],
			Outlier:   res.Outlier[i],
		}
	}
	return rec
}
