package kafka

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type consumerMetrics struct {
	handled     *prometheus.CounterVec
	retries     *prometheus.CounterVec
	queued      *prometheus.GaugeVec
	latency     *prometheus.HistogramVec
	deadLetters *prometheus.CounterVec
}

// register adds c to reg, or returns the collector already registered under the
// same name so several producers or consumers can share one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func newProducerMetrics(reg prometheus.Registerer) *producerMetrics {
	return &producerMetrics{
		messages: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlier_kafka_producer_messages_total",
			Help: "Messages published, by topic and result.",
		}, []string{"topic", "result"})),
		bytes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlier_kafka_producer_bytes_total",
			Help: "Payload bytes published.",
		}, []string{"topic"})),
		latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outlier_kafka_producer_publish_seconds",
			Help:    "Publish latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})),
	}
}

func (m *producerMetrics) observe(topic string, n int, bytes int64, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.messages.WithLabelValues(topic, result).Add(float64(n))
	m.bytes.WithLabelValues(topic).Add(float64(bytes))
	m.latency.WithLabelValues(topic).Observe(took.Seconds())
}

func newConsumerMetrics(reg prometheus.Registerer) *consumerMetrics {
	return &consumerMetrics{
		handled: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlier_kafka_consumer_messages_total",
			Help: "Messages handled, by topic and result.",
		}, []string{"topic", "result"})),
		retries: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlier_kafka_consumer_retries_total",
			Help: "Handler retries.",
		}, []string{"topic"})),
		queued: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "outlier_kafka_consumer_queue_depth",
			Help: "Messages waiting for a worker.",
		}, []string{"topic"})),
		latency: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outlier_kafka_consumer_handle_seconds",
			Help:    "Handling time per message including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"})),
		deadLetters: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outlier_kafka_consumer_dead_letters_total",
			Help: "Messages routed to the dead letter topic.",
		}, []string{"topic"})),
	}
}
