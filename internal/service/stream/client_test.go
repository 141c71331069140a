package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OutlierScope/internal/domain/models"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/outliers/stream", r.URL.Path)
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req models.DetectRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if len(req.Target) < 2 {
				_ = conn.WriteJSON(models.StreamFrame{Type: models.FrameError, RequestID: req.RequestID,
					Error: &models.ErrorPayload{Kind: "invalid_input", Field: "target", Message: "too short"}})
				continue
			}
			for i := 1; i <= 2; i++ {
				_ = conn.WriteJSON(models.StreamFrame{Type: models.FrameIteration, RequestID: req.RequestID, Iteration: i, NewOutliers: 2 - i})
			}
			_ = conn.WriteJSON(models.StreamFrame{Type: models.FrameResult, RequestID: req.RequestID,
				Result: &models.DetectResponse{Iterations: 2, State: "converged", Dates: req.Dates}})
		}
	}))
}

func TestStreamURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/api/outliers/stream", streamURL("http://localhost:8080/"))
	assert.Equal(t, "wss://api.example.com/api/outliers/stream", streamURL("https://api.example.com"))
	assert.Equal(t, "ws://host/custom", streamURL("ws://host/custom"))
}

func TestDetect(t *testing.T) {
	srv := fakeServer(t)
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Detect(context.Background(), models.DetectRequest{}, nil)
	require.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	var frames []models.StreamFrame
	resp, err := c.Detect(context.Background(), models.DetectRequest{RequestID: "r1", Dates: []string{"a", "b"}, Target: models.Float64s{1, 2}},
		func(f models.StreamFrame) { frames = append(frames, f) })
	require.NoError(t, err)
	assert.Equal(t, "converged", resp.State)
	require.Len(t, frames, 2)
	assert.Equal(t, 2, frames[1].Iteration)

	_, err = c.Detect(context.Background(), models.DetectRequest{RequestID: "r2", Target: models.Float64s{1}}, nil)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "r2", re.RequestID)
	assert.Equal(t, "invalid_input", re.Payload.Kind)
}
