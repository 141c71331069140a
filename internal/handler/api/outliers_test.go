package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OutlierScope/internal/domain/models"
	svcmetrics "OutlierScope/internal/service/metrics"
	"OutlierScope/internal/services/detection"
	"OutlierScope/internal/usecase"
	xhttp "OutlierScope/pkg/http"
	"OutlierScope/pkg/logger"
	"OutlierScope/pkg/metrics"
	"OutlierScope/pkg/queue"
)

const validBody = `{"dates":["2024-01-01","2024-01-02","2024-01-03","2024-01-04","2024-01-05","2024-01-06"],` +
	`"target":[1,2,3,4,5,6],"method":"local"}`

type fakeJobs struct {
	payloads []any
}

func (f *fakeJobs) Enqueue(_ context.Context, jobType string, payload any) (string, error) {
	f.payloads = append(f.payloads, payload)
	return "job-1", nil
}

func (f *fakeJobs) Status(_ context.Context, id string) (*queue.Status, error) {
	if id != "job-1" {
		return nil, queue.ErrJobNotFound
	}
	return &queue.Status{ID: id, Type: usecase.JobTypeDetect, State: queue.StateDone}, nil
}

func newTestEcho(t *testing.T, opts ...OutliersOption) *echo.Echo {
	t.Helper()
	reg := prometheus.NewRegistry()
	detect := usecase.NewDetectOutliers(
		detection.NewDispatcher(),
		nil, nil,
		metrics.New(reg),
		logger.NewNop(),
		usecase.DetectConfig{MaxConcurrent: 2, Timeout: 10 * time.Second},
	)
	h := NewOutliersHandler(logger.NewNop(), detect, svcmetrics.NewAPI(reg), opts...)
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, b []byte) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(b, &env))
	return env
}

func TestDetect(t *testing.T) {
	e := newTestEcho(t)
	rec := do(e, http.MethodPost, "/api/outliers", validBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.DetectResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec.Body.Bytes()).Data, &resp))
	assert.Equal(t, "local", resp.Method)
	assert.Len(t, resp.Prediction, 6)
	assert.Len(t, resp.Outliers, 6)
	assert.Equal(t, "2024-01-01", resp.Dates[0])
}

func TestDetectProxyEvent(t *testing.T) {
	e := newTestEcho(t)
	wrapped, _ := json.Marshal(map[string]string{"body": validBody})
	rec := do(e, http.MethodPost, "/api/outliers", string(wrapped))
	require.Equal(t, http.StatusOK, rec.Code)

	var pr models.ProxyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pr))
	assert.Equal(t, http.StatusOK, pr.StatusCode)
	env := decodeEnvelope(t, []byte(pr.Body))
	assert.Equal(t, http.StatusOK, env.Status)

	bad, _ := json.Marshal(map[string]string{"body": `{"dates":["2024-01-01"],"target":[1]}`})
	rec = do(e, http.MethodPost, "/api/outliers", string(bad))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pr))
	assert.Equal(t, http.StatusBadRequest, pr.StatusCode)
	assert.Contains(t, pr.Body, xhttp.CodeInvalidInput)
}

func TestDetectErrors(t *testing.T) {
	e := newTestEcho(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
		field  string
	}{
		{"malformed", `{"dates":`, http.StatusBadRequest, xhttp.CodeInvalidInput, ""},
		{"too short", `{"dates":["2024-01-01"],"target":[1]}`, http.StatusBadRequest, xhttp.CodeInvalidInput, "dates"},
		{"null target", `{"dates":["2024-01-01","2024-01-02"],"target":[1,null]}`, http.StatusBadRequest, xhttp.CodeInvalidInput, ""},
		{"bad date", `{"dates":["2024-01-01","nope"],"target":[1,2]}`, http.StatusBadRequest, xhttp.CodeInvalidInput, "dates"},
		{"unknown method", `{"dates":["2024-01-01","2024-01-02","2024-01-03"],"target":[1,2,3],"method":"arima"}`,
			http.StatusBadRequest, xhttp.CodeUnsupportedMethod, "method"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/api/outliers", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			var errs []xhttp.AppError
			require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec.Body.Bytes()).Data, &errs))
			require.Len(t, errs, 1)
			assert.Equal(t, tt.code, errs[0].Code)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestExample(t *testing.T) {
	e := newTestEcho(t)
	rec := do(e, http.MethodGet, "/api/outliers/example?n=30&outlier_frac=0.2&seed=7", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var ex models.ExampleResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec.Body.Bytes()).Data, &ex))
	assert.Len(t, ex.Request.Dates, 30)
	assert.Len(t, ex.Injected, 6)
	assert.Equal(t, "2020-01-01", ex.Request.Dates[0])

	rec = do(e, http.MethodGet, "/api/outliers/example?n=1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsWithoutStore(t *testing.T) {
	e := newTestEcho(t)
	rec := do(e, http.MethodGet, "/api/outliers/runs/abc", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(e, http.MethodGet, "/api/outliers/runs?limit=5", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec = do(e, http.MethodGet, "/api/outliers/runs?limit=1000", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobs(t *testing.T) {
	e := newTestEcho(t)
	rec := do(e, http.MethodPost, "/api/outliers/jobs", validBody)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	jobs := &fakeJobs{}
	e = newTestEcho(t, WithJobs(jobs))
	rec = do(e, http.MethodPost, "/api/outliers/jobs", validBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var acc models.JobAccepted
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec.Body.Bytes()).Data, &acc))
	assert.Equal(t, "job-1", acc.JobID)
	assert.Equal(t, "queued", acc.State)
	require.Len(t, jobs.payloads, 1)
	assert.Equal(t, 10, jobs.payloads[0].(models.DetectRequest).MaxIterations)

	rec = do(e, http.MethodPost, "/api/outliers/jobs", `{"dates":[],"target":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, jobs.payloads, 1)

	rec = do(e, http.MethodGet, "/api/outliers/jobs/job-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(e, http.MethodGet, "/api/outliers/jobs/other", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitOption(t *testing.T) {
	deny := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return xhttp.AppErrorResponse(c, xhttp.NewAppError(xhttp.CodeRateLimited, "", "slow down", http.StatusTooManyRequests))
		}
	}
	e := newTestEcho(t, WithRateLimit(deny))
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodPost, "/api/outliers", validBody).Code)
	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/health", "").Code)
}

func TestStream(t *testing.T) {
	e := newTestEcho(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/outliers/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	reg := prometheus.NewRegistry()
	u := usecase.NewDetectOutliers(detection.NewDispatcher(), nil, nil, metrics.New(reg), logger.NewNop(), usecase.DetectConfig{})
	ex := u.Example(models.ExampleRequest{N: 60, OutlierFrac: 0.1, Seed: 5, Method: "local"})
	ex.Request.RequestID = "s-1"
	require.NoError(t, conn.WriteJSON(ex.Request))

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var frames []models.StreamFrame
	for {
		var f models.StreamFrame
		require.NoError(t, conn.ReadJSON(&f))
		frames = append(frames, f)
		if f.Type != models.FrameIteration {
			break
		}
	}
	last := frames[len(frames)-1]
	require.Equal(t, models.FrameResult, last.Type)
	assert.Equal(t, "s-1", last.RequestID)
	require.NotNil(t, last.Result)
	assert.Len(t, last.Result.Outliers, 60)
	assert.Greater(t, len(frames), 1)
	assert.Equal(t, 1, frames[0].Iteration)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"dates":["x"],"target":[1]}`)))
	var f models.StreamFrame
	require.NoError(t, conn.ReadJSON(&f))
	assert.Equal(t, models.FrameError, f.Type)
	assert.Equal(t, "invalid_input", f.Error.Kind)
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"fit failure", models.FitFailuref("trend", "singular system"), http.StatusInternalServerError, xhttp.CodeFitFailure},
		{"invalid", models.InvalidInputf("dates", "not increasing"), http.StatusBadRequest, xhttp.CodeInvalidInput},
		{"timeout", fmt.Errorf("%w after 1s: %w", usecase.ErrTimeout, context.DeadlineExceeded), http.StatusGatewayTimeout, xhttp.CodeTimeout},
		{"canceled", context.Canceled, statusClientClosed, xhttp.CodeCanceled},
		{"no store", usecase.ErrNoStore, http.StatusServiceUnavailable, xhttp.CodeUnavailable},
		{"job missing", queue.ErrJobNotFound, http.StatusNotFound, xhttp.CodeNotFound},
		{"other", errors.New("boom"), http.StatusInternalServerError, xhttp.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toAppError(tt.err)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}
