package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request/response envelopes shared by the HTTP, websocket, Kafka and queue entry points.

// DetectRequest is the wire form of a detection request.
type DetectRequest struct {
	RequestID     string         `json:"request_id,omitempty"`
	Dates         []string       `json:"dates" validate:"required,min=2"`
	Target        Float64s       `json:"target" validate:"required,min=2"`
	DatesFormat   string         `json:"dates_format" default:"%Y-%m-%d"`
	TargetDtype   string         `json:"target_dtype" default:"float" validate:"oneof=float float64 float32 int int64 int32"`
	Method        string         `json:"method"`
	MaxIterations int            `json:"n_iterations" default:"10" validate:"gte=1,lte=1000"`
	MethodOptions map[string]any `json:"method_kws"`
}

// Float64s is a JSON number array that rejects null entries instead of reading them as 0.
type Float64s []float64

func (f *Float64s) UnmarshalJSON(b []byte) error {
	var raw []*float64
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		*f = nil
		return nil
	}
	out := make(Float64s, len(raw))
	for i, v := range raw {
		if v == nil {
			return fmt.Errorf("element %d is null", i)
		}
		out[i] = *v
	}
	*f = out
	return nil
}

// DetectResponse is the wire form of a detection result.
type DetectResponse struct {
	RunID           string    `json:"run_id,omitempty"`
	Dates           []string  `json:"dates"`
	Prediction      []float64 `json:"prediction"`
	PredictionUpper []float64 `json:"prediction_upper"`
	PredictionLower []float64 `json:"prediction_lower"`
	Outliers        []bool    `json:"outliers"`
	Method          string    `json:"method"`
	Iterations      int       `json:"iterations"`
	State           string    `json:"state"`
	Cached          bool      `json:"cached"`
}

// ProxyEvent is an API-gateway proxy envelope; Body holds the real payload.
type ProxyEvent struct {
	Body *string `json:"body"`
}

// ProxyResponse wraps a serialized response for proxy callers.
type ProxyResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// ExampleRequest configures the synthetic example endpoint.
type ExampleRequest struct {
	N           int     `query:"n" json:"n" default:"360" validate:"gte=2,lte=100000"`
	OutlierFrac float64 `query:"outlier_frac" json:"outlier_frac" default:"0.1" validate:"gte=0,lte=1"`
	Seed        uint64  `query:"seed" json:"seed" default:"1"`
	Method      string  `query:"method" json:"method"`
}

// ExampleResponse carries a synthetic request and the indices that were distorted.
type ExampleResponse struct {
	Request  DetectRequest `json:"request"`
	Injected []int         `json:"injected"`
}

// RunsRequest lists recent runs.
type RunsRequest struct {
	Limit  int    `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=500"`
	Method string `query:"method" json:"method"`
}

// DetectionMessage is the result record published for Kafka requests.
type DetectionMessage struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Error     *ErrorPayload   `json:"error,omitempty"`
	Result    *DetectResponse `json:"result,omitempty"`
	At        time.Time       `json:"at"`
}

// ErrorPayload is the serialized form of a DetectionError.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Stream frame types.
const (
	FrameIteration = "iteration"
	FrameResult    = "result"
	FrameError     = "error"
)

// StreamFrame is one websocket message sent while a streamed request runs.
type StreamFrame struct {
	Type          string          `json:"type"`
	RequestID     string          `json:"request_id,omitempty"`
	Iteration     int             `json:"iteration,omitempty"`
	NewOutliers   int             `json:"new_outliers,omitempty"`
	TotalOutliers int             `json:"total_outliers,omitempty"`
	State         string          `json:"state,omitempty"`
	Result        *DetectResponse `json:"result,omitempty"`
	Error         *ErrorPayload   `json:"error,omitempty"`
}

// JobAccepted is returned when a request is queued.
type JobAccepted struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}
