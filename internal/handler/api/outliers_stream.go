package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"OutlierScope/internal/domain/models"
	"OutlierScope/internal/domain/service"
	"OutlierScope/internal/usecase"
	xlogger "OutlierScope/pkg/logger"
)

type streamConfig struct {
	buffer     int
	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	readLimit  int64
}

func defaultStreamConfig() streamConfig {
	return streamConfig{
		buffer:     64,
		writeWait:  10 * time.Second,
		pongWait:   60 * time.Second,
		pingPeriod: 50 * time.Second,
		readLimit:  8 << 20,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Stream upgrades to a websocket. Each text message is a detection request;
// the server answers with one iteration frame per fit and a final result or
// error frame. Requests on one connection run one at a time.
func (h *OutliersHandler) Stream(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("stream upgrade failed", xlogger.Error(err))
		return nil
	}
	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := &streamConn{
		conn:    conn,
		cfg:     h.stream,
		out:     make(chan models.StreamFrame, h.stream.buffer),
		stopped: make(chan struct{}),
		logger:  h.logger,
	}
	go sc.writePump()

	conn.SetReadLimit(h.stream.readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(h.stream.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.stream.pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("stream closed", xlogger.Error(err))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.stream.pongWait))
		if !h.serveStreamRequest(ctx, sc, data) {
			break
		}
	}
	close(sc.out)
	<-sc.stopped
	return nil
}

// serveStreamRequest runs one request and reports whether the connection is still writable.
func (h *OutliersHandler) serveStreamRequest(ctx context.Context, sc *streamConn, data []byte) bool {
	req, _, err := usecase.DecodeRequest(data)
	id := req.RequestID
	if id == "" {
		id = uuid.NewString()
	}
	if err != nil {
		h.metrics.Error("stream", toAppError(err).Code)
		return sc.send(models.StreamFrame{Type: models.FrameError, RequestID: id, Error: usecase.ErrorPayloadOf(err)})
	}
	h.metrics.ObservePoints("stream", len(req.Target))

	sess := &streamSession{conn: sc, requestID: id}
	resp, err := h.detect.ExecuteObserved(ctx, req, sess.observe)
	sess.finish()
	if err != nil {
		h.metrics.Error("stream", toAppError(err).Code)
		return sc.send(models.StreamFrame{Type: models.FrameError, RequestID: id, Error: usecase.ErrorPayloadOf(err)})
	}
	return sc.send(models.StreamFrame{Type: models.FrameResult, RequestID: id, State: resp.State, Result: resp})
}

type streamConn struct {
	conn    *websocket.Conn
	cfg     streamConfig
	out     chan models.StreamFrame
	stopped chan struct{}
	logger  *xlogger.Logger
}

// send queues a frame, waiting for room. It returns false once the writer has stopped.
func (sc *streamConn) send(f models.StreamFrame) bool {
	select {
	case sc.out <- f:
		return true
	case <-sc.stopped:
		return false
	}
}

// trySend queues a frame only if there is room.
func (sc *streamConn) trySend(f models.StreamFrame) bool {
	select {
	case sc.out <- f:
		return true
	default:
		return false
	}
}

func (sc *streamConn) writePump() {
	ticker := time.NewTicker(sc.cfg.pingPeriod)
	defer func() {
		ticker.Stop()
		close(sc.stopped)
		_ = sc.conn.Close()
	}()
	for {
		select {
		case f, ok := <-sc.out:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(sc.cfg.writeWait))
			if !ok {
				_ = sc.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := sc.conn.WriteJSON(f); err != nil {
				sc.logger.Debug("stream write failed", xlogger.Error(err))
				return
			}
		case <-ticker.C:
			_ = sc.conn.SetWriteDeadline(time.Now().Add(sc.cfg.writeWait))
			if err := sc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// streamSession forwards iteration events of one request. Events arriving after
// finish are dropped, as are events that find the queue full.
type streamSession struct {
	conn      *streamConn
	requestID string

	mu      sync.Mutex
	done    bool
	dropped int
}

func (s *streamSession) observe(ev service.IterationEvent) {
	total := 0
	for _, o := range ev.Outliers {
		if o {
			total++
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	if !s.conn.trySend(models.StreamFrame{
		Type:          models.FrameIteration,
		RequestID:     s.requestID,
		Iteration:     ev.Iteration,
		NewOutliers:   ev.NewOutliers,
		TotalOutliers: total,
		State:         ev.State.String(),
	}) {
		s.dropped++
	}
}

func (s *streamSession) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.dropped > 0 {
		s.conn.logger.Debug("stream frames dropped", xlogger.String("request_id", s.requestID), xlogger.Int("dropped", s.dropped))
	}
}
