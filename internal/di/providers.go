package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"OutlierScope/internal/domain/models"
	"OutlierScope/internal/domain/repository"
	"OutlierScope/internal/domain/service"
	"OutlierScope/internal/handler/api"
	internalrepo "OutlierScope/internal/repository"
	svcmetrics "OutlierScope/internal/service/metrics"
	"OutlierScope/internal/service/ratelimit"
	"OutlierScope/internal/services/detection"
	"OutlierScope/internal/usecase"
	"OutlierScope/pkg/cache"
	pkgch "OutlierScope/pkg/clickhouse"
	"OutlierScope/pkg/config"
	xhttp "OutlierScope/pkg/http"
	pkgkafka "OutlierScope/pkg/kafka"
	"OutlierScope/pkg/logger"
	"OutlierScope/pkg/metrics"
	"OutlierScope/pkg/queue"
	"OutlierScope/pkg/server"
)

const initTimeout = 10 * time.Second

// ProvideLogger builds the root logger.
func ProvideLogger(cfg *config.Config) (*logger.Logger, error) {
	l, err := logger.New(&cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(logger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// ProvideMetrics creates the detection metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

func ProvideAPIMetrics(reg *prometheus.Registry) *svcmetrics.API {
	return svcmetrics.NewAPI(reg)
}

// ProvideRedisClient connects to Redis when it is enabled, otherwise returns nil.
func ProvideRedisClient(cfg *config.Config, l *logger.Logger) (redis.UniversalClient, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	client, _, err := cache.NewRedisClient(ctx,
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, 2),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	l.Info("redis connected", logger.String("addr", cfg.Redis.Addr))
	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("redis close error", logger.Error(err))
		}
	}, nil
}

// ProvideCache builds the result cache: memory only, or memory in front of Redis.
func ProvideCache(cfg *config.Config, rc redis.UniversalClient) cache.Service {
	if !cfg.Cache.Enabled {
		return nil
	}
	mem := cache.NewMemoryCache(
		cache.WithMemoryMaxEntries(cfg.Cache.MemoryEntries),
		cache.WithMemoryDefaultTTL(cfg.Cache.LocalTTL),
	)
	if rc == nil {
		return mem
	}
	return cache.NewLayeredCache(mem, cache.NewRedisCache(rc, cfg.Redis.Prefix+":cache", cfg.Cache.TTL), cfg.Cache.LocalTTL)
}

// ProvideClickHouseClient connects to ClickHouse when it is enabled, otherwise returns nil.
func ProvideClickHouseClient(cfg *config.Config, l *logger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	client, err := pkgch.NewClient(ctx,
		pkgch.WithEndpoint(cfg.ClickHouse.Host, cfg.ClickHouse.Port, cfg.ClickHouse.Database),
		pkgch.WithAuth(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithPool(cfg.ClickHouse.MaxOpenConns, cfg.ClickHouse.MaxIdleConns, 0),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.MaxExecutionTime),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithCompression(cfg.ClickHouse.Compress),
		pkgch.WithInsertMode(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", logger.Error(err))
		}
	}, nil
}

// ProvideResultStore creates the run tables and returns the store, or nil without ClickHouse.
func ProvideResultStore(cfg *config.Config, client *pkgch.Client, l *logger.Logger) (repository.ResultStore, error) {
	if client == nil {
		return nil, nil
	}
	store := internalrepo.NewCHResultStore(client.DB(), cfg.ClickHouse.Database,
		internalrepo.WithStoreLogger(l),
		internalrepo.WithStoreBreaker(cfg.ClickHouse.BreakerFailures, cfg.ClickHouse.BreakerCooldown),
	)
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	if err := store.InitSchema(ctx, client); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse schema ready", logger.String("database", cfg.ClickHouse.Database))
	return store, nil
}

// ProvideKafkaProducer creates a producer when Kafka is enabled, otherwise returns nil.
func ProvideKafkaProducer(cfg *config.Config, l *logger.Logger, reg *prometheus.Registry) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	p := cfg.Kafka.Producer
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(p.BatchSize, p.BatchBytes, p.Linger),
		pkgkafka.WithTimeouts(p.WriteTimeout, p.ReadTimeout),
		pkgkafka.WithMaxAttempts(p.MaxAttempts),
		pkgkafka.WithAsync(p.Async),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerLogger(l),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, func() {
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", logger.Error(err))
		}
	}, nil
}

// ProvideResultPublisher returns nil without a producer. The producer is closed by its own cleanup.
func ProvideResultPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.ResultPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaResultPublisher(producer, cfg.Kafka.ResultTopic)
}

// ProvideKafkaConsumer creates a consumer when Kafka is enabled, otherwise returns nil.
func ProvideKafkaConsumer(cfg *config.Config, l *logger.Logger, reg *prometheus.Registry) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	c := cfg.Kafka.Consumer
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(c.GroupID),
		pkgkafka.WithConsumerStartOffset(c.StartOffset),
		pkgkafka.WithConsumerWorkers(c.Workers),
		pkgkafka.WithConsumerBufferSize(c.BufferSize),
		pkgkafka.WithConsumerRetry(c.RetryMax, c.BackoffMin, c.BackoffMax),
		pkgkafka.WithConsumerDLQ(c.DLQTopic),
		pkgkafka.WithConsumerFetch(c.MinBytes, c.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
		pkgkafka.WithConsumerRegisterer(reg),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.SetHook(pkgkafka.RequestIDHook())
	return consumer, nil
}

// ProvideDetector returns the method dispatcher.
func ProvideDetector() service.OutlierDetector {
	return detection.NewDispatcher()
}

func ProvideDetectOutliers(
	cfg *config.Config,
	detector service.OutlierDetector,
	c cache.Service,
	store repository.ResultStore,
	m repository.Metrics,
	l *logger.Logger,
) *usecase.DetectOutliers {
	return usecase.NewDetectOutliers(detector, c, store, m, l.With(logger.String("component", "detect")), usecase.DetectConfig{
		DefaultMethod:  models.Method(cfg.Detection.DefaultMethod),
		MaxConcurrent:  cfg.Detection.MaxConcurrent,
		Timeout:        cfg.Detection.Timeout,
		MaxPoints:      cfg.Detection.MaxPoints,
		LocalMaxPoints: cfg.Detection.LocalMaxPoints,
		CacheTTL:       cfg.Cache.TTL,
	})
}

// ProvideKafkaDetectHandler returns nil unless results can be published.
func ProvideKafkaDetectHandler(cfg *config.Config, uc *usecase.DetectOutliers, pub repository.ResultPublisher, m repository.Metrics) pkgkafka.MessageHandler {
	if pub == nil {
		return nil
	}
	return usecase.NewKafkaDetectHandler(cfg.Kafka.RequestTopic, uc, pub, m)
}

// ProvideJobQueue returns nil unless the queue is enabled and Redis is connected.
func ProvideJobQueue(cfg *config.Config, l *logger.Logger, rc redis.UniversalClient, uc *usecase.DetectOutliers) *queue.RedisQueue {
	if !cfg.Queue.Enabled || rc == nil {
		return nil
	}
	q := queue.NewRedisQueue(l, queue.QueueConfig{
		Workers:    cfg.Queue.Workers,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
		StatusTTL:  cfg.Queue.StatusTTL,
	}, rc, queue.WithKeyPrefix(cfg.Redis.Prefix+":queue"))
	q.RegisterJob(usecase.NewDetectionJob(uc))
	return q
}

// ProvideRateLimiter returns nil when rate limiting is disabled.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(
		ratelimit.WithRate(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		ratelimit.WithIdleTTL(cfg.RateLimit.IdleTTL),
	)
}

func ProvideOutliersHandler(
	cfg *config.Config,
	l *logger.Logger,
	uc *usecase.DetectOutliers,
	m *svcmetrics.API,
	q *queue.RedisQueue,
	limiter *ratelimit.Limiter,
) xhttp.Handler {
	opts := []api.OutliersOption{api.WithStreamBuffer(cfg.Detection.StreamBuffer)}
	if q != nil {
		opts = append(opts, api.WithJobs(q))
	}
	if limiter != nil {
		opts = append(opts, api.WithRateLimit(ratelimit.Middleware(limiter)))
	}
	return api.NewOutliersHandler(l.With(logger.String("component", "api")), uc, m, opts...)
}

func ProvideHTTPServer(cfg *config.Config, l *logger.Logger, h xhttp.Handler, reg *prometheus.Registry) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithBodyLimit(cfg.Server.BodyLimit),
		xhttp.WithCORS(cfg.Server.CORSOrigins...),
		xhttp.WithSlowThreshold(cfg.Server.SlowThreshold),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, xhttp.WithMetrics(reg, reg))
	} else {
		opts = append(opts, xhttp.WithMetrics(prometheus.NewRegistry(), prometheus.NewRegistry()))
	}
	return xhttp.NewServer(l, h, opts...)
}

// ProvideApp assembles the application and attaches the error log collector
// when Kafka is available.
func ProvideApp(
	cfg *config.Config,
	l *logger.Logger,
	srv *xhttp.Server,
	consumer *pkgkafka.Consumer,
	kh pkgkafka.MessageHandler,
	q *queue.RedisQueue,
	limiter *ratelimit.Limiter,
	producer *pkgkafka.Producer,
) *server.App {
	if cfg.LogCollector.Enabled && producer != nil {
		l.AddCollector(&logger.CollectionConfig{
			TimeInterval:   cfg.LogCollector.FlushInterval,
			CountThreshold: cfg.LogCollector.CountThreshold,
			Topic:          cfg.LogCollector.Topic,
			Publisher:      producer,
		})
	}
	return server.New(cfg, l, srv, consumer, kh, q, limiter)
}
