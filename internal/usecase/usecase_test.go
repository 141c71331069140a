package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OutlierScope/internal/domain/models"
	domrepo "OutlierScope/internal/domain/repository"
	"OutlierScope/internal/domain/service"
	"OutlierScope/internal/services/detection"
	"OutlierScope/pkg/cache"
	"OutlierScope/pkg/logger"
	"OutlierScope/pkg/queue"
)

type fakeMetrics struct {
	mu     sync.Mutex
	runs   []string
	errors []string
	cache  []string
}

func (m *fakeMetrics) RecordRun(method, state string, _, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, method+"/"+state)
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, kind)
}

func (m *fakeMetrics) RecordCache(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = append(m.cache, result)
}

func (m *fakeMetrics) RecordLatency(string, float64) {}

type countingDetector struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
	err   error
}

func (d *countingDetector) Detect(ctx context.Context, in models.SeriesInput) (*models.DetectionResult, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.err != nil {
		return nil, d.err
	}
	n := in.Len()
	res := &models.DetectionResult{
		Fitted:     append([]float64(nil), in.Values...),
		Lower:      make([]float64, n),
		Upper:      make([]float64, n),
		Outlier:    make([]bool, n),
		Iterations: 1,
		State:      models.StateConverged,
	}
	res.Outlier[0] = true
	return res, nil
}

type memStore struct {
	mu   sync.Mutex
	runs map[string]models.RunRecord
}

func (s *memStore) SaveRun(_ context.Context, rec models.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = map[string]models.RunRecord{}
	}
	s.runs[rec.ID] = rec
	return nil
}

func (s *memStore) GetRun(_ context.Context, id string) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[id]
	if !ok {
		return nil, domrepo.ErrRunNotFound
	}
	return &rec, nil
}

func (s *memStore) ListRuns(context.Context, string, int) ([]models.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RunSummary, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.RunSummary)
	}
	return out, nil
}

func (s *memStore) Health(context.Context) error { return nil }

type capturePublisher struct {
	msgs []models.DetectionMessage
	err  error
}

func (p *capturePublisher) PublishResult(_ context.Context, msg models.DetectionMessage) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func sampleRequest() models.DetectRequest {
	return models.DetectRequest{
		Dates:  []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04"},
		Target: models.Float64s{1, 2, 3, 4},
	}
}

func newTestUsecase(det service.OutlierDetector, c cache.Service, store domrepo.ResultStore, m *fakeMetrics, cfg DetectConfig) *DetectOutliers {
	u := NewDetectOutliers(det, c, store, m, logger.NewNop(), cfg)
	seq := 0
	u.newID = func() string {
		seq++
		return "run-" + string(rune('0'+seq))
	}
	return u
}

func TestDecodeRequest(t *testing.T) {
	body := `{"dates":["2024-01-01","2024-01-02"],"target":[1,2]}`

	req, proxied, err := DecodeRequest([]byte(body))
	require.NoError(t, err)
	assert.False(t, proxied)
	assert.Equal(t, models.Float64s{1, 2}, req.Target)

	wrapped, _ := json.Marshal(map[string]string{"body": body})
	req, proxied, err = DecodeRequest(wrapped)
	require.NoError(t, err)
	assert.True(t, proxied)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02"}, req.Dates)

	_, _, err = DecodeRequest([]byte(`{"dates":["2024-01-01"],"target":[1,null]}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestToSeriesInput(t *testing.T) {
	req := sampleRequest()
	require.NoError(t, NormalizeRequest(context.Background(), &req))
	assert.Equal(t, 10, req.MaxIterations)
	assert.Equal(t, "%Y-%m-%d", req.DatesFormat)

	req.Target = models.Float64s{1.9, -2.7, 3, 4}
	req.TargetDtype = "int"
	req.Method = " LOCAL "
	in, err := ToSeriesInput(req, models.MethodTrend, PointLimits{})
	require.NoError(t, err)
	assert.Equal(t, models.MethodLocal, in.Method)
	assert.Equal(t, []float64{1, -2, 3, 4}, in.Values)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), in.Timestamps[1])

	req.Method = ""
	in, err = ToSeriesInput(req, models.MethodTrend, PointLimits{})
	require.NoError(t, err)
	assert.Equal(t, models.MethodTrend, in.Method)

	_, err = ToSeriesInput(req, models.MethodTrend, PointLimits{Max: 3})
	var de *models.DetectionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "target", de.Field)

	_, err = ToSeriesInput(req, models.MethodTrend, PointLimits{Max: 10, Local: 3})
	require.NoError(t, err, "the local cap does not apply to trend")
	req.Method = "local"
	_, err = ToSeriesInput(req, models.MethodTrend, PointLimits{Max: 10, Local: 3})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "target", de.Field)
	assert.Contains(t, de.Error(), "limit for local is 3")
	req.Method = ""

	req.Dates[2] = "03/01/2024"
	_, err = ToSeriesInput(req, models.MethodTrend, PointLimits{})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "dates", de.Field)
}

func TestPointLimitsFor(t *testing.T) {
	tests := []struct {
		limits PointLimits
		method models.Method
		want   int
	}{
		{PointLimits{Max: 100, Local: 10}, models.MethodLocal, 10},
		{PointLimits{Max: 100, Local: 10}, models.MethodTrend, 100},
		{PointLimits{Max: 5, Local: 10}, models.MethodLocal, 5},
		{PointLimits{Local: 10}, models.MethodLocal, 10},
		{PointLimits{Max: 100}, models.MethodLocal, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.limits.For(tt.method), "%+v %s", tt.limits, tt.method)
	}
}

func TestNormalizeRequestRejectsShortSeries(t *testing.T) {
	req := models.DetectRequest{Dates: []string{"2024-01-01"}, Target: models.Float64s{1}}
	err := NormalizeRequest(context.Background(), &req)
	var de *models.DetectionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, models.KindInvalidInput, de.Kind)
	assert.Equal(t, "dates", de.Field)
}

func TestFingerprintStable(t *testing.T) {
	req := sampleRequest()
	require.NoError(t, NormalizeRequest(context.Background(), &req))
	in, err := ToSeriesInput(req, models.MethodTrend, PointLimits{})
	require.NoError(t, err)

	a, err := Fingerprint(in)
	require.NoError(t, err)
	b, err := Fingerprint(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	in.Method = models.MethodLocal
	c, err := Fingerprint(in)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestExecuteCachesAndStores(t *testing.T) {
	det := &countingDetector{}
	store := &memStore{}
	m := &fakeMetrics{}
	u := newTestUsecase(det, cache.NewMemoryCache(), store, m, DetectConfig{MaxConcurrent: 2, Timeout: time.Second, CacheTTL: time.Minute})

	first, err := u.Execute(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, "converged", first.State)
	assert.Equal(t, []bool{true, false, false, false}, first.Outliers)

	second, err := u.Execute(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Prediction, second.Prediction)

	assert.Equal(t, 1, det.calls)
	assert.Equal(t, []string{"miss", "hit"}, m.cache)
	assert.Equal(t, []string{"trend/converged"}, m.runs)

	rec, err := u.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Length)
	assert.Equal(t, 1, rec.Outliers)
	assert.Len(t, rec.Points, 4)
}

func TestExecuteTimeout(t *testing.T) {
	det := &countingDetector{delay: 200 * time.Millisecond}
	m := &fakeMetrics{}
	u := newTestUsecase(det, nil, nil, m, DetectConfig{Timeout: 20 * time.Millisecond})

	_, err := u.Execute(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "timeout", ErrorPayloadOf(err).Kind)
	assert.Contains(t, m.errors, "timeout")
}

func TestExecuteDetectorError(t *testing.T) {
	det := &countingDetector{err: models.FitFailuref("trend", "singular")}
	m := &fakeMetrics{}
	u := newTestUsecase(det, nil, nil, m, DetectConfig{})

	_, err := u.Execute(context.Background(), sampleRequest())
	require.ErrorIs(t, err, models.ErrFitFailure)
	assert.Equal(t, []string{"fit_failure"}, m.errors)
	assert.Equal(t, []string{"trend/failed"}, m.runs)

	p := ErrorPayloadOf(err)
	assert.Equal(t, "fit_failure", p.Kind)
}

func TestRunLookupsWithoutStore(t *testing.T) {
	u := newTestUsecase(&countingDetector{}, nil, nil, &fakeMetrics{}, DetectConfig{})
	_, err := u.GetRun(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = u.ListRuns(context.Background(), models.RunsRequest{Limit: 5})
	assert.ErrorIs(t, err, ErrNoStore)
}

func TestExecuteObservedStreamsIterations(t *testing.T) {
	m := &fakeMetrics{}
	u := newTestUsecase(detection.NewDispatcher(), nil, nil, m, DetectConfig{Timeout: 10 * time.Second})

	ex := u.Example(models.ExampleRequest{N: 60, OutlierFrac: 0.1, Seed: 3, Method: "local"})
	require.Len(t, ex.Request.Dates, 60)
	require.Len(t, ex.Injected, 6)

	var events []service.IterationEvent
	resp, err := u.ExecuteObserved(context.Background(), ex.Request, func(ev service.IterationEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, resp.Iterations, events[len(events)-1].Iteration)
	assert.Len(t, resp.Outliers, 60)
	assert.Equal(t, "local", resp.Method)
}

func TestKafkaDetectHandler(t *testing.T) {
	m := &fakeMetrics{}
	pub := &capturePublisher{}
	u := newTestUsecase(&countingDetector{}, nil, nil, m, DetectConfig{})
	h := NewKafkaDetectHandler("outlier.requests", u, pub, m)
	assert.Equal(t, "outlier.requests", h.Topic())

	req := sampleRequest()
	req.RequestID = "req-1"
	b, _ := json.Marshal(req)
	require.NoError(t, h.Handle(context.Background(), b))

	require.NoError(t, h.Handle(context.Background(), []byte(`{"dates":[],"target":[]}`)))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "req-1", pub.msgs[0].RequestID)
	assert.Equal(t, StatusOK, pub.msgs[0].Status)
	require.NotNil(t, pub.msgs[0].Result)
	assert.Equal(t, StatusError, pub.msgs[1].Status)
	assert.NotEmpty(t, pub.msgs[1].RequestID)
	assert.Equal(t, "invalid_input", pub.msgs[1].Error.Kind)

	pub.err = errors.New("broker down")
	assert.Error(t, h.Handle(context.Background(), b))
}

func TestDetectionJob(t *testing.T) {
	u := newTestUsecase(&countingDetector{}, nil, nil, &fakeMetrics{}, DetectConfig{})
	job := NewDetectionJob(u)
	assert.Equal(t, JobTypeDetect, job.Type())

	b, _ := json.Marshal(sampleRequest())
	out, err := job.Handle(context.Background(), b)
	require.NoError(t, err)
	assert.IsType(t, &models.DetectResponse{}, out)

	_, err = job.Handle(context.Background(), []byte(`{"dates":["2024-01-01"],"target":[1]}`))
	assert.True(t, queue.IsPermanent(err))

	slow := newTestUsecase(&countingDetector{delay: 100 * time.Millisecond}, nil, nil, &fakeMetrics{}, DetectConfig{Timeout: 10 * time.Millisecond})
	_, err = NewDetectionJob(slow).Handle(context.Background(), b)
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
}
