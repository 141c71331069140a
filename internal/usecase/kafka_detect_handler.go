package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"OutlierScope/internal/domain/models"
	domrepo "OutlierScope/internal/domain/repository"
	pkgkafka "OutlierScope/pkg/kafka"
)

// Detection message statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// KafkaDetectHandler consumes detection requests and publishes one result message
// per request. Bad requests are answered with an error message, not retried.
type KafkaDetectHandler struct {
	topic     string
	detect    *DetectOutliers
	publisher domrepo.ResultPublisher
	metrics   domrepo.Metrics
	now       func() time.Time
}

func NewKafkaDetectHandler(topic string, detect *DetectOutliers, publisher domrepo.ResultPublisher, metrics domrepo.Metrics) *KafkaDetectHandler {
	return &KafkaDetectHandler{topic: topic, detect: detect, publisher: publisher, metrics: metrics, now: time.Now}
}

func (h *KafkaDetectHandler) Topic() string { return h.topic }

func (h *KafkaDetectHandler) Handle(ctx context.Context, b []byte) error {
	start := time.Now()
	req, _, err := DecodeRequest(b)
	id := req.RequestID
	if id == "" {
		id = pkgkafka.RequestIDFromContext(ctx)
	}
	if id == "" {
		id = uuid.NewString()
	}

	msg := models.DetectionMessage{RequestID: id, Status: StatusOK}
	if err == nil {
		msg.Result, err = h.detect.Execute(ctx, req)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		h.metrics.RecordError("consumer_detect")
		msg.Status, msg.Error, msg.Result = StatusError, ErrorPayloadOf(err), nil
	}
	msg.At = h.now().UTC()

	if err := h.publisher.PublishResult(ctx, msg); err != nil {
		h.metrics.RecordError("consumer_publish")
		return fmt.Errorf("publish result %s: %w", id, err)
	}
	h.metrics.RecordLatency("consumer_handle", time.Since(start).Seconds())
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaDetectHandler)(nil)
