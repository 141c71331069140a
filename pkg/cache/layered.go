package cache

import (
	"context"
	"errors"
	"time"
)

// LayeredCache reads through a local L1 to a shared L2 and writes to both.
// L1 entries live at most l1TTL so other replicas' deletes become visible.
type LayeredCache struct {
	l1    Service
	l2    Service
	l1TTL time.Duration
}

func NewLayeredCache(l1, l2 Service, l1TTL time.Duration) *LayeredCache {
	return &LayeredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (c *LayeredCache) Get(ctx context.Context, key string) ([]byte, error) {
	if b, err := c.l1.Get(ctx, key); err == nil {
		return b, nil
	}
	b, err := c.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = c.l1.Set(ctx, key, b, c.l1TTL)
	return b, nil
}

// Set writes L2 first so a failed shared write never leaves a local-only entry.
func (c *LayeredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	l1 := c.l1TTL
	if ttl > 0 && ttl < l1 {
		l1 = ttl
	}
	return c.l1.Set(ctx, key, value, l1)
}

func (c *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	return errors.Join(c.l1.Delete(ctx, keys...), c.l2.Delete(ctx, keys...))
}

func (c *LayeredCache) Close() error {
	return errors.Join(c.l1.Close(), c.l2.Close())
}
