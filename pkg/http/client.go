package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ClientOption configures Client.
type ClientOption func(*Client)

// RequestOptions holds HTTP request parameters.
type RequestOptions struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams map[string][]string
	Body        any
}

// StatusError is returned for non-2xx responses. When the body is an API envelope
// carrying AppErrors, the first one is decoded into App.
type StatusError struct {
	Status int
	Body   []byte
	App    *AppError
}

func (e *StatusError) Error() string {
	if e.App != nil {
		return fmt.Sprintf("unexpected status %d: %s: %s", e.Status, e.App.Code, e.App.Message)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, bytes.TrimSpace(e.Body))
}

// Client is a JSON HTTP client guarded by a circuit breaker.
type Client struct {
	timeout time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	bname   string
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{timeout: 30 * time.Second, bname: "http-client"}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout}
	}
	if c.breaker == nil {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        c.bname,
			MaxRequests: 1,
			Timeout:     15 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: isBreakerSuccess,
		})
	}
	return c
}

// isBreakerSuccess keeps 4xx answers and caller cancellation from tripping the breaker.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Status < 500
}

// SendAndParse sends the request and decodes a JSON body into dest.
func (c *Client) SendAndParse(ctx context.Context, opts *RequestOptions, dest any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, opts, dest)
	})
	return err
}

// State reports the breaker state ("closed", "half-open", "open").
func (c *Client) State() string { return c.breaker.State().String() }

func (c *Client) do(ctx context.Context, opts *RequestOptions, dest any) error {
	req, err := c.buildRequest(ctx, opts)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		se := &StatusError{Status: resp.StatusCode, Body: body}
		var env struct {
			Data []*AppError `json:"data"`
		}
		if json.Unmarshal(body, &env) == nil && len(env.Data) > 0 && env.Data[0] != nil && env.Data[0].Code != "" {
			se.App = env.Data[0]
			se.App.Status = resp.StatusCode
		}
		return se
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func (c *Client) buildRequest(ctx context.Context, opts *RequestOptions) (*http.Request, error) {
	var body io.Reader
	switch v := opts.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(v)
	case io.Reader:
		body = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal json: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	if len(opts.QueryParams) > 0 {
		q := req.URL.Query()
		for key, values := range opts.QueryParams {
			for _, value := range values {
				q.Add(key, value)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHTTPClient replaces the underlying client, e.g. with httptest's.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithBreakerName labels the circuit breaker.
func WithBreakerName(name string) ClientOption {
	return func(c *Client) { c.bname = name }
}

// WithBreaker overrides the breaker settings. IsSuccessful defaults to ignoring 4xx.
func WithBreaker(st gobreaker.Settings) ClientOption {
	return func(c *Client) {
		if st.IsSuccessful == nil {
			st.IsSuccessful = isBreakerSuccess
		}
		c.breaker = gobreaker.NewCircuitBreaker(st)
	}
}
