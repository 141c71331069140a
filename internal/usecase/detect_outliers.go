package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"OutlierScope/internal/domain/models"
	domrepo "OutlierScope/internal/domain/repository"
	"OutlierScope/internal/domain/service"
	"OutlierScope/internal/services/detection"
	"OutlierScope/pkg/cache"
	"OutlierScope/pkg/logger"
	"OutlierScope/pkg/util"
)

// ErrTimeout is returned when a run exceeds the configured deadline.
var ErrTimeout = errors.New("detection timed out")

// ErrNoStore is returned by run lookups when persistence is disabled.
var ErrNoStore = errors.New("result store disabled")

// DetectConfig bounds request handling.
type DetectConfig struct {
	DefaultMethod  models.Method
	MaxConcurrent  int
	Timeout        time.Duration
	MaxPoints      int
	LocalMaxPoints int
	CacheTTL       time.Duration
}

// DetectOutliers is the entry point shared by every transport.
type DetectOutliers struct {
	detector service.OutlierDetector
	observed func(service.IterationObserver) service.OutlierDetector
	cache    cache.Service
	store    domrepo.ResultStore
	metrics  domrepo.Metrics
	log      *logger.Logger
	gate     chan struct{}
	cfg      DetectConfig

	newID func() string
	now   func() time.Time
}

// NewDetectOutliers wires the usecase. cache and store may be nil.
func NewDetectOutliers(
	detector service.OutlierDetector,
	c cache.Service,
	store domrepo.ResultStore,
	metrics domrepo.Metrics,
	log *logger.Logger,
	cfg DetectConfig,
) *DetectOutliers {
	if cfg.DefaultMethod == "" {
		cfg.DefaultMethod = models.MethodTrend
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &DetectOutliers{
		detector: detector,
		observed: func(fn service.IterationObserver) service.OutlierDetector {
			return detection.NewObservedDispatcher(fn)
		},
		cache:   c,
		store:   store,
		metrics: metrics,
		log:     log,
		gate:    make(chan struct{}, cfg.MaxConcurrent),
		cfg:     cfg,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// Prepare normalizes a request into a detector input.
func (u *DetectOutliers) Prepare(ctx context.Context, req *models.DetectRequest) (models.SeriesInput, error) {
	if err := NormalizeRequest(ctx, req); err != nil {
		return models.SeriesInput{}, err
	}
	return ToSeriesInput(*req, u.cfg.DefaultMethod, PointLimits{Max: u.cfg.MaxPoints, Local: u.cfg.LocalMaxPoints})
}

// Execute runs a detection, serving repeated requests from the cache.
func (u *DetectOutliers) Execute(ctx context.Context, req models.DetectRequest) (*models.DetectResponse, error) {
	in, err := u.Prepare(ctx, &req)
	if err != nil {
		u.fail(err)
		return nil, err
	}

	key := ""
	if u.cache != nil {
		if key, err = Fingerprint(in); err != nil {
			u.log.Warn("fingerprint failed", logger.Error(err))
		} else if resp, err := cache.GetJSON[models.DetectResponse](ctx, u.cache, key); err == nil {
			u.metrics.RecordCache("hit")
			resp.Cached = true
			resp.Dates = req.Dates
			return &resp, nil
		} else {
			if !errors.Is(err, cache.ErrCacheMiss) {
				u.log.Warn("cache read failed", logger.String("key", key), logger.Error(err))
			}
			u.metrics.RecordCache("miss")
		}
	}

	resp, err := u.run(ctx, req, in, u.detector)
	if err != nil {
		return nil, err
	}
	if key != "" {
		if err := cache.SetJSON(ctx, u.cache, key, resp, u.cfg.CacheTTL); err != nil {
			u.log.Warn("cache write failed", logger.String("key", key), logger.Error(err))
		}
	}
	return resp, nil
}

// ExecuteObserved runs a detection reporting every iteration to observe. It never
// reads the cache since the caller wants the iterations replayed.
func (u *DetectOutliers) ExecuteObserved(ctx context.Context, req models.DetectRequest, observe service.IterationObserver) (*models.DetectResponse, error) {
	in, err := u.Prepare(ctx, &req)
	if err != nil {
		u.fail(err)
		return nil, err
	}
	return u.run(ctx, req, in, u.observed(observe))
}

func (u *DetectOutliers) run(ctx context.Context, req models.DetectRequest, in models.SeriesInput, det service.OutlierDetector) (*models.DetectResponse, error) {
	if u.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.cfg.Timeout)
		defer cancel()
	}

	select {
	case u.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, u.ctxErr(ctx)
	}

	type outcome struct {
		res *models.DetectionResult
		err error
	}
	done := make(chan outcome, 1)
	start := u.now()
	go func() {
		defer func() { <-u.gate }()
		res, err := det.Detect(ctx, in)
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		return nil, u.ctxErr(ctx)
	}
	took := u.now().Sub(start)
	u.metrics.RecordLatency("detect", took.Seconds())
	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled) {
			return nil, u.ctxErr(ctx)
		}
		u.fail(out.err)
		u.metrics.RecordRun(string(in.Method), models.StateFailed.String(), 0, 0, took)
		return nil, out.err
	}

	res := out.res
	u.metrics.RecordRun(string(in.Method), res.State.String(), res.Iterations, res.OutlierCount(), took)

	runID := u.newID()
	if u.store != nil {
		rec := models.NewRunRecord(runID, in, res, took, u.now().UTC())
		if err := u.store.SaveRun(ctx, rec); err != nil {
			u.metrics.RecordError("store_save")
			u.log.Error("save run failed", logger.String("run_id", runID), logger.Error(err))
		}
	}
	u.log.Debug("detection finished",
		logger.String("run_id", runID),
		logger.String("method", string(in.Method)),
		logger.Int("points", in.Len()),
		logger.Int("iterations", res.Iterations),
		logger.Int("outliers", res.OutlierCount()),
		logger.String("state", res.State.String()),
		logger.Duration("took", took),
	)
	return BuildResponse(runID, req, in, res), nil
}

func (u *DetectOutliers) ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		u.metrics.RecordError("timeout")
		return fmt.Errorf("%w after %s: %w", ErrTimeout, u.cfg.Timeout, context.DeadlineExceeded)
	}
	u.metrics.RecordError("canceled")
	return ctx.Err()
}

func (u *DetectOutliers) fail(err error) {
	if k, ok := models.KindOf(err); ok {
		u.metrics.RecordError(k.String())
		return
	}
	u.metrics.RecordError("internal")
}

// Example builds a synthetic request with injected outliers.
func (u *DetectOutliers) Example(req models.ExampleRequest) models.ExampleResponse {
	s := detection.GenerateSeries(detection.SyntheticConfig{
		N:           req.N,
		OutlierFrac: req.OutlierFrac,
		Seed:        req.Seed,
	})
	dates, _ := util.FormatDates(s.Timestamps, "%Y-%m-%d")
	injected := s.Injected
	if injected == nil {
		injected = []int{}
	}
	return models.ExampleResponse{
		Request: models.DetectRequest{
			Dates:         dates,
			Target:        s.Values,
			DatesFormat:   "%Y-%m-%d",
			TargetDtype:   "float",
			Method:        req.Method,
			MaxIterations: 10,
		},
		Injected: injected,
	}
}

// GetRun loads a persisted run.
func (u *DetectOutliers) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	if u.store == nil {
		return nil, ErrNoStore
	}
	return u.store.GetRun(ctx, id)
}

// ListRuns returns the most recent runs, newest first.
func (u *DetectOutliers) ListRuns(ctx context.Context, req models.RunsRequest) ([]models.RunSummary, error) {
	if u.store == nil {
		return nil, ErrNoStore
	}
	return u.store.ListRuns(ctx, req.Method, req.Limit)
}
