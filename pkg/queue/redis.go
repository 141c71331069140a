package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisBackend struct {
	client redis.UniversalClient
	prefix string
}

func newRedisBackend(client redis.UniversalClient, prefix string) *redisBackend {
	return &redisBackend{client: client, prefix: prefix}
}

func (b *redisBackend) queueKey() string { return b.prefix + ":messages" }
func (b *redisBackend) retryKey() string { return b.prefix + ":retry" }
func (b *redisBackend) deadKey() string { return b.prefix + ":dlq" }
func (b *redisBackend) statusKey(id string) string { return b.prefix + ":status:" + id }

func (b *redisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *redisBackend) Push(ctx context.Context, data []byte) error {
	if err := b.client.LPush(ctx, b.queueKey(), data).Err(); err != nil {
		return fmt.Errorf("lpush: %w", err)
	}
	return nil
}

func (b *redisBackend) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	res, err := b.client.BRPop(ctx, timeout, b.queueKey()).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("brpop: %w", err)
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

func (b *redisBackend) ScheduleRetry(ctx context.Context, data []byte, at time.Time) error {
	err := b.client.ZAdd(ctx, b.retryKey(), redis.Z{Score: float64(at.Unix()), Member: data}).Err()
	if err != nil {
		return fmt.Errorf("zadd retry: %w", err)
	}
	return nil
}

func (b *redisBackend) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := b.client.ZRangeByScore(ctx, b.retryKey(), &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("fetch retries: %w", err)
	}
	moved := 0
	for _, member := range due {
		pipe := b.client.TxPipeline()
		rem := pipe.ZRem(ctx, b.retryKey(), member)
		pipe.LPush(ctx, b.queueKey(), member)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, fmt.Errorf("move retry: %w", err)
		}
		if rem.Val() > 0 {
			moved++
		}
	}
	return moved, nil
}

func (b *redisBackend) DeadLetter(ctx context.Context, data []byte) error {
	if err := b.client.LPush(ctx, b.deadKey(), data).Err(); err != nil {
		return fmt.Errorf("lpush dlq: %w", err)
	}
	return nil
}

func (b *redisBackend) SaveStatus(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.statusKey(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

func (b *redisBackend) LoadStatus(ctx context.Context, id string) ([]byte, error) {
	data, err := b.client.Get(ctx, b.statusKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load status: %w", err)
	}
	return data, nil
}
