// Package stream is a websocket client for /api/outliers/stream.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"OutlierScope/internal/domain/models"
)

// ErrNotConnected is returned when Detect is called before Connect.
var ErrNotConnected = errors.New("stream: not connected")

// RemoteError is an error frame sent by the server.
type RemoteError struct {
	RequestID string
	Payload   models.ErrorPayload
}

func (e *RemoteError) Error() string {
	if e.Payload.Field != "" {
		return fmt.Sprintf("stream %s: %s (%s): %s", e.RequestID, e.Payload.Kind, e.Payload.Field, e.Payload.Message)
	}
	return fmt.Sprintf("stream %s: %s: %s", e.RequestID, e.Payload.Kind, e.Payload.Message)
}

// Client runs detections over one websocket connection, one request at a time.
type Client struct {
	url       string
	dialer    *websocket.Dialer
	writeWait time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithWriteWait bounds each write on the connection.
func WithWriteWait(d time.Duration) Option {
	return func(c *Client) { c.writeWait = d }
}

// New accepts either a ws(s):// URL or an http(s):// base URL, to which the
// stream path is appended.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:       streamURL(url),
		dialer:    websocket.DefaultDialer,
		writeWait: 10 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func streamURL(u string) string {
	switch {
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	default:
		return u
	}
	return strings.TrimRight(u, "/") + "/api/outliers/stream"
}

// Connect dials the server.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Detect sends req and calls onFrame for every iteration frame until the result
// arrives. Canceling ctx closes the connection.
func (c *Client) Detect(ctx context.Context, req models.DetectRequest, onFrame func(models.StreamFrame)) (*models.DetectResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	conn := c.conn

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := conn.WriteJSON(req); err != nil {
		return nil, c.fail(ctx, fmt.Errorf("stream write: %w", err))
	}
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return nil, c.fail(ctx, fmt.Errorf("stream read: %w", err))
		}
		var f models.StreamFrame
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("stream decode: %w", err)
		}
		switch f.Type {
		case models.FrameIteration:
			if onFrame != nil {
				onFrame(f)
			}
		case models.FrameResult:
			if f.Result == nil {
				return nil, fmt.Errorf("stream %s: result frame without result", f.RequestID)
			}
			return f.Result, nil
		case models.FrameError:
			re := &RemoteError{RequestID: f.RequestID}
			if f.Error != nil {
				re.Payload = *f.Error
			}
			return nil, re
		}
	}
}

func (c *Client) fail(ctx context.Context, err error) error {
	c.conn = nil
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}
