package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"OutlierScope/internal/domain/models"
	xhttp "OutlierScope/pkg/http"
	"OutlierScope/pkg/util"
)

// DecodeRequest parses a detection request. When the payload is an API-gateway proxy
// event whose "body" is a string, the string is decoded instead and proxied is true.
func DecodeRequest(data []byte) (req models.DetectRequest, proxied bool, err error) {
	data = bytes.TrimSpace(data)
	var ev models.ProxyEvent
	if json.Unmarshal(data, &ev) == nil && ev.Body != nil {
		data, proxied = []byte(*ev.Body), true
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, proxied, models.InvalidInputf("", "malformed request: %v", err)
	}
	return req, proxied, nil
}

// NormalizeRequest applies request defaults and validates the envelope fields.
func NormalizeRequest(ctx context.Context, req *models.DetectRequest) error {
	if errs := xhttp.ValidateStruct(ctx, req); len(errs) > 0 {
		return models.InvalidInputf(errs[0].Field, "%s", errs[0].Message)
	}
	return nil
}

// ToSeriesInput converts a normalized request into a detector input.
// PointLimits caps series length. Local applies to the local method on top of Max,
// since its smoothing cost grows with the square of the length. Zero means no cap.
type PointLimits struct {
	Max   int
	Local int
}

// For returns the effective cap for m.
func (l PointLimits) For(m models.Method) int {
	if m == models.MethodLocal && l.Local > 0 && (l.Max <= 0 || l.Local < l.Max) {
		return l.Local
	}
	return l.Max
}

func ToSeriesInput(req models.DetectRequest, defaultMethod models.Method, limits PointLimits) (models.SeriesInput, error) {
	method := models.Method(strings.ToLower(strings.TrimSpace(req.Method)))
	if method == "" {
		method = defaultMethod
	}
	if limit := limits.For(method); limit > 0 && len(req.Target) > limit {
		return models.SeriesInput{}, models.InvalidInputf("target", "series has %d points, limit for %s is %d", len(req.Target), method, limit)
	}
	ts, err := util.ParseDates(req.Dates, req.DatesFormat)
	if err != nil {
		return models.SeriesInput{}, models.InvalidInputf("dates", "%v", err)
	}
	values, err := convertDtype(req.Target, req.TargetDtype)
	if err != nil {
		return models.SeriesInput{}, err
	}
	return models.SeriesInput{
		Timestamps:    ts,
		Values:        values,
		MaxIterations: req.MaxIterations,
		Method:        method,
		MethodOptions: req.MethodOptions,
	}, nil
}

// convertDtype casts values to the requested type: float32 rounds to single
// precision, integer types truncate toward zero.
func convertDtype(in []float64, dtype string) ([]float64, error) {
	out := make([]float64, len(in))
	for i, v := range in {
		switch dtype {
		case "", "float", "float64":
			out[i] = v
		case "float32":
			out[i] = float64(float32(v))
		case "int", "int64":
			out[i] = math.Trunc(v)
		case "int32":
			t := math.Trunc(v)
			if t > math.MaxInt32 || t < math.MinInt32 {
				return nil, models.InvalidInputf("target", "target[%d] = %g overflows int32", i, v)
			}
			out[i] = t
		default:
			return nil, models.InvalidInputf("target_dtype", "unsupported dtype %q", dtype)
		}
	}
	return out, nil
}

// Fingerprint identifies a detection by everything that affects its result.
func Fingerprint(in models.SeriesInput) (string, error) {
	ts := make([]int64, len(in.Timestamps))
	for i, t := range in.Timestamps {
		ts[i] = t.UnixNano()
	}
	b, err := json.Marshal(struct {
		Method  models.Method  `json:"m"`
		Iter    int            `json:"i"`
		Times   []int64        `json:"t"`
		Values  []float64      `json:"v"`
		Options map[string]any `json:"o"`
	}{in.Method, in.MaxIterations, ts, in.Values, in.MethodOptions})
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(b)
	return "detect:" + hex.EncodeToString(sum[:]), nil
}

// BuildResponse assembles the wire result.
func BuildResponse(runID string, req models.DetectRequest, in models.SeriesInput, res *models.DetectionResult) *models.DetectResponse {
	return &models.DetectResponse{
		RunID:           runID,
		Dates:           req.Dates,
		Prediction:      res.Fitted,
		PredictionUpper: res.Upper,
		PredictionLower: res.Lower,
		Outliers:        res.Outlier,
		Method:          string(in.Method),
		Iterations:      res.Iterations,
		State:           res.State.String(),
	}
}

// ErrorPayloadOf converts an error into its serialized form.
func ErrorPayloadOf(err error) *models.ErrorPayload {
	var de *models.DetectionError
	switch {
	case errors.As(err, &de):
		return &models.ErrorPayload{Kind: de.Kind.String(), Message: de.Error(), Field: de.Field}
	case errors.Is(err, ErrTimeout):
		return &models.ErrorPayload{Kind: "timeout", Message: err.Error()}
	default:
		return &models.ErrorPayload{Kind: "internal", Message: err.Error()}
	}
}
