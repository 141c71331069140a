package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"OutlierScope/pkg/logger"
)

// MessageHandler handles the messages of one topic.
type MessageHandler interface {
	Topic() string
	Handle(ctx context.Context, payload []byte) error
}

// PermanentError marks a failure that retrying cannot fix, such as an
// undecodable payload. Such messages skip the retry loop.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the consumer does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type delivery struct {
	topic string
	msg   kafka.Message
}

type partitionKey struct {
	topic     string
	partition int
}

// Consumer reads registered topics and fans messages out to a worker pool.
// Messages of one partition are handled one at a time. A message is committed
// once it succeeded or was written to the dead letter topic.
type Consumer struct {
	cfg     *ConsumerConfig
	log     *logger.Logger
	metrics *consumerMetrics
	hook    ConsumerHook

	handlers  map[string]MessageHandler
	readers   map[string]messageReader
	newReader func(topic string) messageReader
	dlq       messageWriter

	queue    chan *delivery
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	locksMu sync.Mutex
	locks   map[partitionKey]*sync.Mutex
}

func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "outlier-detector",
		StartOffset: "earliest",
		Workers:     1,
		BufferSize:  16,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: brokers are required")
	}

	c := newConsumer(cfg)
	c.newReader = func(topic string) messageReader {
		start := kafka.FirstOffset
		if cfg.StartOffset == "latest" {
			start = kafka.LastOffset
		}
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       topic,
			GroupID:     cfg.GroupID,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			StartOffset: start,
		})
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	return c, nil
}

func newConsumer(cfg *ConsumerConfig) *Consumer {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Consumer{
		cfg:      cfg,
		log:      log.With(logger.String("component", "kafka_consumer")),
		metrics:  newConsumerMetrics(cfg.Registerer),
		hook:     NoopHook{},
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]messageReader),
		queue:    make(chan *delivery, cfg.BufferSize),
		stop:     make(chan struct{}),
		locks:    make(map[partitionKey]*sync.Mutex),
	}
}

// RegisterHandler binds h to its topic. A second handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(h MessageHandler) {
	if _, ok := c.handlers[h.Topic()]; ok {
		c.log.Warn("handler already registered", logger.String("topic", h.Topic()))
		return
	}
	c.handlers[h.Topic()] = h
}

// SetHook installs lifecycle hooks. Call before Start.
func (c *Consumer) SetHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// Start opens one reader per registered topic and starts the workers.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("kafka consumer: no handlers registered")
	}
	for topic := range c.handlers {
		c.readers[topic] = c.newReader(topic)
	}
	for i := 0; i < c.cfg.Workers; i++ {
		c.wg.Add(1)
		go c.work()
	}
	var readers sync.WaitGroup
	for topic, r := range c.readers {
		readers.Add(1)
		c.wg.Add(1)
		go func(topic string, r messageReader) {
			defer readers.Done()
			c.read(topic, r)
		}(topic, r)
	}
	// workers drain the queue once every reader has returned
	go func() {
		readers.Wait()
		close(c.queue)
	}()
	c.log.Info("kafka consumer started", logger.Int("workers", c.cfg.Workers), logger.Int("topics", len(c.readers)))
	return nil
}

// Stop signals readers and workers and waits for in-flight messages.
func (c *Consumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stop)
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("kafka consumer: stop: %w", ctx.Err())
		}
		for topic, r := range c.readers {
			if cerr := r.Close(); cerr != nil {
				c.log.Warn("close reader", logger.String("topic", topic), logger.Error(cerr))
			}
		}
		if c.dlq != nil {
			if cerr := c.dlq.Close(); cerr != nil {
				c.log.Warn("close dead letter writer", logger.Error(cerr))
			}
		}
	})
	return err
}

func (c *Consumer) read(topic string, r messageReader) {
	defer c.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stop
		cancel()
	}()

	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("fetch failed", logger.String("topic", topic), logger.Error(err))
			select {
			case <-time.After(c.cfg.BackoffMin):
				continue
			case <-c.stop:
				return
			}
		}
		select {
		case c.queue <- &delivery{topic: topic, msg: msg}:
			c.metrics.queued.WithLabelValues(topic).Set(float64(len(c.queue)))
		case <-c.stop:
			return
		}
	}
}

func (c *Consumer) work() {
	defer c.wg.Done()
	for d := range c.queue {
		c.process(d)
	}
}

// process runs one message through hooks, handler, retries and the dead letter topic.
func (c *Consumer) process(d *delivery) {
	handler, ok := c.handlers[d.topic]
	if !ok {
		return
	}
	lock := c.partitionLock(d.topic, d.msg.Partition)
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	err := c.handleWithRetry(handler, d)
	c.metrics.latency.WithLabelValues(d.topic).Observe(time.Since(start).Seconds())

	commit := err == nil
	if err != nil {
		c.metrics.handled.WithLabelValues(d.topic, "error").Inc()
		c.hook.OnError(context.Background(), d.topic, d.msg, d.msg.Value, err)
		c.log.Error("message handling failed",
			logger.String("topic", d.topic),
			logger.Int("partition", d.msg.Partition),
			logger.Int64("offset", d.msg.Offset),
			logger.Error(err))
		commit = c.deadLetter(d, err)
	} else {
		c.metrics.handled.WithLabelValues(d.topic, "ok").Inc()
	}

	if commit {
		c.commit(d)
	}
}

func (c *Consumer) handleWithRetry(h MessageHandler, d *delivery) (err error) {
	for attempt := 1; ; attempt++ {
		err = c.handleOnce(h, d)
		if err == nil || IsPermanent(err) || attempt > c.cfg.RetryMax {
			return err
		}
		c.metrics.retries.WithLabelValues(d.topic).Inc()
		select {
		case <-time.After(backoff(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)):
		case <-c.stop:
			return err
		}
	}
}

func (c *Consumer) handleOnce(h MessageHandler, d *delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	ctx, msg, data, err := c.hook.BeforeHandle(context.Background(), d.topic, d.msg, d.msg.Value)
	if err != nil {
		return Permanent(err)
	}
	err = h.Handle(ctx, data)
	c.hook.AfterHandle(ctx, d.topic, msg, data, err)
	return err
}

// deadLetter reports whether the message was parked and may be committed.
func (c *Consumer) deadLetter(d *delivery, cause error) bool {
	if c.dlq == nil || c.cfg.DLQTopic == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic: c.cfg.DLQTopic,
		Key:   d.msg.Key,
		Value: d.msg.Value,
		Time:  time.Now(),
		Headers: append(d.msg.Headers,
			kafka.Header{Key: "source_topic", Value: []byte(d.topic)},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
		),
	})
	if err != nil {
		c.log.Error("dead letter write failed", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	c.metrics.deadLetters.WithLabelValues(d.topic).Inc()
	return true
}

func (c *Consumer) commit(d *delivery) {
	r := c.readers[d.topic]
	if r == nil {
		return
	}
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = r.CommitMessages(ctx, d.msg)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(backoff(50*time.Millisecond, 500*time.Millisecond, attempt))
	}
	c.log.Warn("commit failed", logger.String("topic", d.topic), logger.Int64("offset", d.msg.Offset), logger.Error(err))
}

func (c *Consumer) partitionLock(topic string, partition int) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	k := partitionKey{topic, partition}
	l, ok := c.locks[k]
	if !ok {
		l = &sync.Mutex{}
		c.locks[k] = l
	}
	return l
}

// backoff is exponential in attempt, capped at max, with up to 50% jitter.
func backoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	d := min << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	half := int64(d) / 2
	if half <= 0 {
		return d
	}
	return d - time.Duration(rand.Int64N(half))
}
