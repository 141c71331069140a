package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Name  string  `json:"name" validate:"required"`
	Count int     `json:"count" default:"3" validate:"gte=1,lte=5"`
	Ratio float64 `json:"ratio" validate:"gte=0,lt=1"`
}

func TestReadAndValidateRequest(t *testing.T) {
	e := echo.New()
	newCtx := func(body string) echo.Context {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		return e.NewContext(req, httptest.NewRecorder())
	}

	var ok sampleRequest
	require.Nil(t, ReadAndValidateRequest(newCtx(`{"name":"x"}`), &ok))
	assert.Equal(t, 3, ok.Count)

	var bad sampleRequest
	errs := ReadAndValidateRequest(newCtx(`{"count":9,"ratio":1}`), &bad)
	require.Len(t, errs, 3)
	assert.Equal(t, ValidationError{Code: "ERR_REQUIRED", Field: "name", Message: "name is required", Params: map[string]any{}}, errs[0])
	assert.Equal(t, "count", errs[1].Field)
	assert.Equal(t, "ERR_LTE", errs[1].Code)
	assert.Equal(t, "ERR_LT", errs[2].Code)

	var broken sampleRequest
	errs = ReadAndValidateRequest(newCtx(`{"name":`), &broken)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_UNKNOWN", errs[0].Code)
}

func TestAppErrorResponseWritesStatus(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := NewAppError(CodeTimeout, "", "took too long", http.StatusGatewayTimeout)
	require.NoError(t, AppErrorResponse(c, err))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"ERR_TIMEOUT"`)

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, AppErrorResponse(c, errors.New("plain")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClientDecodesAppError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":400,"message":"Bad Request","data":[{"code":"ERR_UNSUPPORTED_METHOD","message":"nope","field":"method"}]}`))
	}))
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()))
	err := c.SendAndParse(context.Background(), &RequestOptions{Method: http.MethodPost, URL: srv.URL, Body: map[string]int{"a": 1}}, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.NotNil(t, se.App)
	assert.Equal(t, CodeUnsupportedMethod, se.App.Code)
	assert.Equal(t, "method", se.App.Field)
	assert.Equal(t, "closed", c.State(), "4xx does not count as a failure")
}

func TestClientBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()), WithBreaker(gobreaker.Settings{
		Name:        "test",
		Timeout:     time.Minute,
		ReadyToTrip: func(cnt gobreaker.Counts) bool { return cnt.ConsecutiveFailures >= 2 },
	}))
	for i := 0; i < 2; i++ {
		assert.Error(t, c.SendAndParse(context.Background(), &RequestOptions{Method: http.MethodGet, URL: srv.URL}, nil))
	}
	err := c.SendAndParse(context.Background(), &RequestOptions{Method: http.MethodGet, URL: srv.URL}, nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 2, calls.Load())
}
