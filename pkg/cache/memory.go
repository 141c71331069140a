package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type MemoryConfig struct {
	MaxEntries int
	DefaultTTL time.Duration
}

type MemoryOption func(*MemoryConfig)

func WithMemoryMaxEntries(n int) MemoryOption {
	return func(c *MemoryConfig) {
		if n > 0 {
			c.MaxEntries = n
		}
	}
}

func WithMemoryDefaultTTL(ttl time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.DefaultTTL = ttl }
}

type memEntry struct {
	key      string
	value    []byte
	expireAt time.Time
}

// MemoryCache is a size-bounded LRU. Expired entries are dropped lazily on access.
type MemoryCache struct {
	mu    sync.Mutex
	cfg   MemoryConfig
	order *list.List // front is most recently used
	items map[string]*list.Element
	now   func() time.Time
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := MemoryConfig{MaxEntries: 1024, DefaultTTL: 10 * time.Minute}
	for _, o := range opts {
		o(&cfg)
	}
	return &MemoryCache{
		cfg:   cfg,
		order: list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	e := el.Value.(*memEntry)
	if m.now().After(e.expireAt) {
		m.removeLocked(el)
		return nil, ErrCacheMiss
	}
	m.order.MoveToFront(el)
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	m.mu.Lock()
	defer m.mu.Unlock()
	exp := m.now().Add(ttl)
	if el, ok := m.items[key]; ok {
		e := el.Value.(*memEntry)
		e.value, e.expireAt = buf, exp
		m.order.MoveToFront(el)
		return nil
	}
	m.items[key] = m.order.PushFront(&memEntry{key: key, value: buf, expireAt: exp})
	for m.order.Len() > m.cfg.MaxEntries {
		m.removeLocked(m.order.Back())
	}
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if el, ok := m.items[k]; ok {
			m.removeLocked(el)
		}
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryCache) Close() error { return nil }

func (m *MemoryCache) removeLocked(el *list.Element) {
	m.order.Remove(el)
	delete(m.items, el.Value.(*memEntry).key)
}
