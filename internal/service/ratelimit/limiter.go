// Package ratelimit keeps one token bucket per client key.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	RPS     float64
	Burst   int
	IdleTTL time.Duration
}

type Option func(*Config)

func WithRate(rps float64, burst int) Option {
	return func(c *Config) {
		c.RPS = rps
		c.Burst = burst
	}
}

// WithIdleTTL sets how long an unused bucket is kept before Sweep drops it.
func WithIdleTTL(d time.Duration) Option {
	return func(c *Config) { c.IdleTTL = d }
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type Limiter struct {
	mu  sync.Mutex
	cfg Config
	m   map[string]*bucket
	now func() time.Time
}

func New(opts ...Option) *Limiter {
	cfg := Config{RPS: 5, Burst: 10, IdleTTL: 10 * time.Minute}
	for _, o := range opts {
		o(&cfg)
	}
	return &Limiter{cfg: cfg, m: make(map[string]*bucket), now: time.Now}
}

// Allow consumes one token for key if available.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	b, ok := l.m[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst)}
		l.m[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.lim.AllowN(now, 1)
}

// Sweep drops buckets idle for longer than IdleTTL and returns how many were removed.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.cfg.IdleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, b := range l.m {
		if b.lastSeen.Before(cutoff) {
			delete(l.m, k)
			n++
		}
	}
	return n
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// RunSweeper calls Sweep every interval until stop is closed.
func (l *Limiter) RunSweeper(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			l.Sweep()
		}
	}
}
