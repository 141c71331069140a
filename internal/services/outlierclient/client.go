// Package outlierclient calls the outlier detection HTTP API.
package outlierclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OutlierScope/internal/domain/models"
	"OutlierScope/pkg/queue"
	xhttp "OutlierScope/pkg/http"
)

// Client is a typed client for /api/outliers.
type Client struct {
	baseURL  string
	client   *xhttp.Client
	attempts int
	backoff  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRetries retries transient failures (network errors and 5xx) up to n attempts in total.
func WithRetries(n int, backoff time.Duration) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
		c.backoff = backoff
	}
}

// WithHTTPOptions passes options to the underlying HTTP client.
func WithHTTPOptions(opts ...xhttp.ClientOption) Option {
	return func(c *Client) { c.client = xhttp.NewClient(opts...) }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   xhttp.NewClient(xhttp.WithTimeout(30*time.Second), xhttp.WithBreakerName("outlier-api")),
		attempts: 1,
		backoff:  100 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type envelope[T any] struct {
	Status int `json:"status"`
	Data   T   `json:"data"`
}

// Detect posts a synchronous detection.
func (c *Client) Detect(ctx context.Context, req models.DetectRequest) (*models.DetectResponse, error) {
	var env envelope[models.DetectResponse]
	if err := c.send(ctx, http.MethodPost, "/api/outliers", nil, req, &env); err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	return &env.Data, nil
}

// Example fetches a synthetic request.
func (c *Client) Example(ctx context.Context, req models.ExampleRequest) (*models.ExampleResponse, error) {
	q := map[string][]string{
		"n":            {strconv.Itoa(req.N)},
		"outlier_frac": {strconv.FormatFloat(req.OutlierFrac, 'g', -1, 64)},
		"seed":         {strconv.FormatUint(req.Seed, 10)},
	}
	if req.Method != "" {
		q["method"] = []string{req.Method}
	}
	var env envelope[models.ExampleResponse]
	if err := c.send(ctx, http.MethodGet, "/api/outliers/example", q, nil, &env); err != nil {
		return nil, fmt.Errorf("example: %w", err)
	}
	return &env.Data, nil
}

// GetRun loads a persisted run.
func (c *Client) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var env envelope[models.RunRecord]
	if err := c.send(ctx, http.MethodGet, "/api/outliers/runs/"+id, nil, nil, &env); err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return &env.Data, nil
}

// SubmitJob queues a detection and returns the job id.
func (c *Client) SubmitJob(ctx context.Context, req models.DetectRequest) (string, error) {
	var env envelope[models.JobAccepted]
	if err := c.send(ctx, http.MethodPost, "/api/outliers/jobs", nil, req, &env); err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	return env.Data.JobID, nil
}

// JobStatus returns the state of a queued detection.
func (c *Client) JobStatus(ctx context.Context, id string) (*queue.Status, error) {
	var env envelope[queue.Status]
	if err := c.send(ctx, http.MethodGet, "/api/outliers/jobs/"+id, nil, nil, &env); err != nil {
		return nil, fmt.Errorf("job status %s: %w", id, err)
	}
	return &env.Data, nil
}

// WaitJob polls a job until it is done or failed and decodes its result.
func (c *Client) WaitJob(ctx context.Context, id string, every time.Duration) (*models.DetectResponse, error) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		st, err := c.JobStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		switch st.State {
		case queue.StateDone:
			var resp models.DetectResponse
			if err := json.Unmarshal(st.Result, &resp); err != nil {
				return nil, fmt.Errorf("decode job result: %w", err)
			}
			return &resp, nil
		case queue.StateFailed:
			return nil, fmt.Errorf("job %s failed: %s", id, st.Error)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// State reports the circuit breaker state of the underlying client.
func (c *Client) State() string { return c.client.State() }

func (c *Client) send(ctx context.Context, method, path string, query map[string][]string, body, dest any) error {
	opts := &xhttp.RequestOptions{
		Method:      method,
		URL:         c.baseURL + path,
		QueryParams: query,
		Body:        body,
	}
	if body != nil {
		opts.Headers = map[string]string{"Content-Type": "application/json"}
	}
	var err error
	for i := 1; i <= c.attempts; i++ {
		if err = c.client.SendAndParse(ctx, opts, dest); err == nil || !transient(err) || i == c.attempts {
			return err
		}
		select {
		case <-time.After(time.Duration(i) * c.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Status >= http.StatusInternalServerError
	}
	return true
}
