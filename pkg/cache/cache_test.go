package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(WithMemoryMaxEntries(2))

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	_, err := c.Get(ctx, "a") // a is now most recent
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	v, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	now = now.Add(2 * time.Second)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Zero(t, c.Len())
}

func TestMemoryCacheCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	buf := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", buf, 0))
	buf[0] = 'x'
	got, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
}

type failingCache struct{ MemoryCache }

func (f *failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}

func TestLayeredCache(t *testing.T) {
	ctx := context.Background()
	l1, l2 := NewMemoryCache(), NewMemoryCache()
	c := NewLayeredCache(l1, l2, time.Minute)

	require.NoError(t, l2.Set(ctx, "shared", []byte("x"), 0))
	got, err := c.Get(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
	_, err = l1.Get(ctx, "shared")
	assert.NoError(t, err, "L2 hits are promoted to L1")

	require.NoError(t, c.Delete(ctx, "shared"))
	_, err = c.Get(ctx, "shared")
	assert.ErrorIs(t, err, ErrCacheMiss)

	broken := NewLayeredCache(l1, &failingCache{MemoryCache: *NewMemoryCache()}, time.Minute)
	assert.Error(t, broken.Set(ctx, "k", []byte("v"), 0))
	_, err = l1.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	type payload struct{ N int }

	require.NoError(t, SetJSON(ctx, c, "p", payload{N: 3}, 0))
	got, err := GetJSON[payload](ctx, c, "p")
	require.NoError(t, err)
	assert.Equal(t, 3, got.N)

	_, err = GetJSON[payload](ctx, c, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
