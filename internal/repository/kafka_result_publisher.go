package repository

import (
	"context"

	"OutlierScope/internal/domain/models"
	domrepo "OutlierScope/internal/domain/repository"
	pkgkafka "OutlierScope/pkg/kafka"
)

type batchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaResultPublisher publishes detection results keyed by request id, so all
// results of one request land on the same partition.
type KafkaResultPublisher struct {
	producer batchPublisher
	topic    string
}

func NewKafkaResultPublisher(p *pkgkafka.Producer, topic string) *KafkaResultPublisher {
	return &KafkaResultPublisher{producer: p, topic: topic}
}

func (p *KafkaResultPublisher) PublishResult(ctx context.Context, msg models.DetectionMessage) error {
	return p.producer.PublishBatch(ctx, p.topic, []pkgkafka.Message{{
		Key:   []byte(msg.RequestID),
		Value: msg,
		Headers: map[string]string{
			pkgkafka.RequestIDHeader: msg.RequestID,
			"status":                 msg.Status,
		},
	}})
}

func (p *KafkaResultPublisher) Close() error {
	return p.producer.Close()
}

var _ domrepo.ResultPublisher = (*KafkaResultPublisher)(nil)
