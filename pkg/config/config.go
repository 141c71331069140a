// Package config loads the service configuration from YAML with defaults and
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"OutlierScope/pkg/logger"
)

type Config struct {
	Environment  string             `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Server       ServerConfig       `yaml:"server"`
	Logger       logger.Config      `yaml:"logger"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Detection    DetectionConfig    `yaml:"detection"`
	Redis        RedisConfig        `yaml:"redis"`
	Cache        CacheConfig        `yaml:"cache"`
	RateLimit    RateLimitConfig    `yaml:"ratelimit"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	ClickHouse   ClickHouseConfig   `yaml:"clickhouse"`
	Queue        QueueConfig        `yaml:"queue"`
	LogCollector LogCollectorConfig `yaml:"log_collector"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	BodyLimit       string        `yaml:"body_limit" default:"8M"`
	CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" default:"true"`
}

type DetectionConfig struct {
	DefaultMethod string        `yaml:"default_method" default:"trend" validate:"oneof=trend local"`
	MaxConcurrent int           `yaml:"max_concurrent" default:"4" validate:"gte=1"`
	Timeout       time.Duration `yaml:"timeout" default:"30s" validate:"gt=0"`
	MaxPoints     int           `yaml:"max_points" default:"100000" validate:"gte=2"`
	StreamBuffer  int           `yaml:"stream_buffer" default:"64" validate:"gte=1"`

	// LocalMaxPoints caps local requests; the LOWESS pass is quadratic in length.
	LocalMaxPoints int `yaml:"local_max_points" default:"10000" validate:"gte=2"`
}

// Rough single-core cost of a local run: about 7ns per squared point per pass at
// the default smoothing fraction, over a typical six passes until convergence.
const (
	localPassNanosPerPointSq = 7
	localTypicalPasses       = 6
)

// EstimateLocalRun approximates the wall time of a local run over n points.
func EstimateLocalRun(n int) time.Duration {
	return time.Duration(float64(n) * float64(n) * localPassNanosPerPointSq * localTypicalPasses)
}

// RedisConfig is shared by the result cache and the job queue.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr" default:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"outlier"`
}

type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" default:"true"`
	TTL           time.Duration `yaml:"ttl" default:"10m"`
	LocalTTL      time.Duration `yaml:"local_ttl" default:"1m"`
	MemoryEntries int           `yaml:"memory_entries" default:"512" validate:"gte=1"`
}

type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" default:"true"`
	RPS     float64       `yaml:"rps" default:"5" validate:"gt=0"`
	Burst   int           `yaml:"burst" default:"10" validate:"gte=1"`
	IdleTTL time.Duration `yaml:"idle_ttl" default:"10m"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	RequestTopic string   `yaml:"request_topic" default:"outlier.requests"`
	ResultTopic  string   `yaml:"result_topic" default:"outlier.results"`
	RequiredAcks int      `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		Linger       time.Duration `yaml:"linger" default:"10ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID     string        `yaml:"group_id" default:"outlier-detector"`
		StartOffset string        `yaml:"start_offset" default:"latest" validate:"oneof=earliest latest"`
		Workers     int           `yaml:"workers" default:"4" validate:"gte=1"`
		BufferSize  int           `yaml:"buffer_size" default:"64"`
		RetryMax    int           `yaml:"retry_max" default:"3"`
		BackoffMin  time.Duration `yaml:"backoff_min" default:"200ms"`
		BackoffMax  time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic    string        `yaml:"dlq_topic" default:"outlier.requests.dlq"`
		MinBytes    int           `yaml:"min_bytes" default:"1"`
		MaxBytes    int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
}

type ClickHouseConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"outliers"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	Compress         bool          `yaml:"compress" default:"true"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	MaxOpenConns     int           `yaml:"max_open_conns" default:"10"`
	MaxIdleConns     int           `yaml:"max_idle_conns" default:"5"`
	BreakerFailures  int           `yaml:"breaker_failures" default:"5" validate:"gte=1"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" default:"30s"`
}

type QueueConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Workers    int           `yaml:"workers" default:"2" validate:"gte=1"`
	RetryLimit int           `yaml:"retry_limit" default:"3" validate:"gte=0"`
	RetryDelay time.Duration `yaml:"retry_delay" default:"5s"`
	StatusTTL  time.Duration `yaml:"status_ttl" default:"24h"`
}

type LogCollectorConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Topic          string        `yaml:"topic" default:"outlier.logs"`
	FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
	CountThreshold int           `yaml:"count_threshold" default:"100" validate:"gte=1"`
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	if err := defaults.Set(c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return c
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// ApplyEnv applies the supported environment overrides using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	if v, ok := get("OUTLIER_ENV"); ok {
		c.Environment = v
	}
	if v, ok := get("HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logger.Level = strings.ToLower(v)
	}
	if v, ok := get("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := get("CLICKHOUSE_HOST"); ok {
		c.ClickHouse.Host = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
	})
	return v
}()

// Validate checks field rules and cross-section requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				ns := fe.Namespace()
				if i := strings.IndexByte(ns, '.'); i >= 0 {
					ns = ns[i+1:]
				}
				msgs = append(msgs, fmt.Sprintf("%s failed %s %s", ns, fe.Tag(), fe.Param()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return errors.New("queue.enabled requires redis.enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers cannot be empty")
	}
	if local := min(c.Detection.LocalMaxPoints, c.Detection.MaxPoints); EstimateLocalRun(local) > c.Detection.Timeout {
		return fmt.Errorf("detection.local_max_points %d needs about %s per run, above detection.timeout %s",
			local, EstimateLocalRun(local).Round(time.Second), c.Detection.Timeout)
	}
	if c.LogCollector.Enabled && !c.Kafka.Enabled {
		return errors.New("log_collector.enabled requires kafka.enabled")
	}
	return nil
}
