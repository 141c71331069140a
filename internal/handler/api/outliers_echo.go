package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"OutlierScope/internal/domain/models"
	svcmetrics "OutlierScope/internal/service/metrics"
	"OutlierScope/internal/usecase"
	xhttp "OutlierScope/pkg/http"
	xlogger "OutlierScope/pkg/logger"
	"OutlierScope/pkg/queue"
)

// OutliersHandler serves the detection API.
type OutliersHandler struct {
	logger  *xlogger.Logger
	detect  *usecase.DetectOutliers
	jobs    queue.Publisher
	metrics *svcmetrics.API
	limit   echo.MiddlewareFunc
	stream  streamConfig
}

// OutliersOption configures an OutliersHandler.
type OutliersOption func(*OutliersHandler)

// WithJobs enables the job endpoints.
func WithJobs(p queue.Publisher) OutliersOption {
	return func(h *OutliersHandler) { h.jobs = p }
}

// WithRateLimit guards the detection endpoints with mw.
func WithRateLimit(mw echo.MiddlewareFunc) OutliersOption {
	return func(h *OutliersHandler) { h.limit = mw }
}

// WithStreamBuffer sets the outgoing frame queue length of a stream connection.
func WithStreamBuffer(n int) OutliersOption {
	return func(h *OutliersHandler) {
		if n > 0 {
			h.stream.buffer = n
		}
	}
}

func NewOutliersHandler(logger *xlogger.Logger, detect *usecase.DetectOutliers, metrics *svcmetrics.API, opts ...OutliersOption) *OutliersHandler {
	h := &OutliersHandler{
		logger:  logger,
		detect:  detect,
		metrics: metrics,
		stream:  defaultStreamConfig(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *OutliersHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	var guarded []echo.MiddlewareFunc
	if h.limit != nil {
		guarded = append(guarded, h.limit)
	}
	g := e.Group("/api/outliers")
	g.POST("", h.Detect, guarded...)
	g.GET("/stream", h.Stream, guarded...)
	g.POST("/jobs", h.SubmitJob, guarded...)
	g.GET("/jobs/:id", h.JobStatus)
	g.GET("/example", h.Example)
	g.GET("/runs", h.ListRuns)
	g.GET("/runs/:id", h.GetRun)
}

func (h *OutliersHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

// Detect runs a synchronous detection. Proxy events get a 200 with the real
// status and body wrapped inside.
func (h *OutliersHandler) Detect(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.fail(c, "detect", false, xhttp.BadRequestErrorf("read body: %v", err))
	}
	req, proxied, err := usecase.DecodeRequest(body)
	if err != nil {
		return h.fail(c, "detect", proxied, err)
	}
	h.metrics.ObservePoints("detect", len(req.Target))

	resp, err := h.detect.Execute(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, "detect", proxied, err)
	}
	if proxied {
		return proxyResponse(c, http.StatusOK, resp)
	}
	return xhttp.SuccessResponse(c, resp)
}

func (h *OutliersHandler) Example(c echo.Context) error {
	req := &models.ExampleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	return xhttp.SuccessResponse(c, h.detect.Example(*req))
}

func (h *OutliersHandler) GetRun(c echo.Context) error {
	rec, err := h.detect.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "run", false, err)
	}
	return xhttp.SuccessResponse(c, rec)
}

func (h *OutliersHandler) ListRuns(c echo.Context) error {
	req := &models.RunsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	runs, err := h.detect.ListRuns(c.Request().Context(), *req)
	if err != nil {
		return h.fail(c, "runs", false, err)
	}
	return xhttp.ListResponse(c, runs, len(runs))
}

func (h *OutliersHandler) SubmitJob(c echo.Context) error {
	if h.jobs == nil {
		return h.fail(c, "jobs", false, errJobsDisabled)
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return h.fail(c, "jobs", false, xhttp.BadRequestErrorf("read body: %v", err))
	}
	req, _, err := usecase.DecodeRequest(body)
	if err != nil {
		return h.fail(c, "jobs", false, err)
	}
	if err := usecase.NormalizeRequest(c.Request().Context(), &req); err != nil {
		return h.fail(c, "jobs", false, err)
	}
	id, err := h.jobs.Enqueue(c.Request().Context(), usecase.JobTypeDetect, req)
	if err != nil {
		h.metrics.Job("rejected")
		h.logger.Error("enqueue detection failed", xlogger.Error(err))
		return h.fail(c, "jobs", false, err)
	}
	h.metrics.Job("enqueued")
	return xhttp.AcceptedResponse(c, models.JobAccepted{JobID: id, State: string(queue.StateQueued)})
}

func (h *OutliersHandler) JobStatus(c echo.Context) error {
	if h.jobs == nil {
		return h.fail(c, "jobs", false, errJobsDisabled)
	}
	st, err := h.jobs.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, "jobs", false, err)
	}
	return xhttp.SuccessResponse(c, st)
}

func (h *OutliersHandler) fail(c echo.Context, endpoint string, proxied bool, err error) error {
	appErr := toAppError(err)
	h.metrics.Error(endpoint, appErr.Code)
	if appErr.Status >= http.StatusInternalServerError {
		h.logger.Error("outliers request failed", xlogger.String("endpoint", endpoint), xlogger.Error(err))
	}
	if proxied {
		return proxyResponse(c, appErr.Status, []*xhttp.AppError{appErr})
	}
	return xhttp.AppErrorResponse(c, appErr)
}

func proxyResponse(c echo.Context, status int, data any) error {
	b, err := json.Marshal(xhttp.APIResponse{Status: status, Message: http.StatusText(status), Data: data})
	if err != nil {
		return xhttp.InternalServerErrorResponse(c)
	}
	return c.JSON(http.StatusOK, models.ProxyResponse{StatusCode: status, Body: string(b)})
}
