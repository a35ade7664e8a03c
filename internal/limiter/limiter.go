// Package limiter throttles login attempts per client address.
package limiter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether a caller may attempt a login now.
type Limiter interface {
	// Allow reports whether the attempt may proceed and, if not, when to retry.
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// HashIP returns a stable hash for an IP string to avoid keeping raw addresses.
func HashIP(ip string) string {
	h := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(h[:])
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// Memory is an in-process token bucket per key.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time
}

var _ Limiter = (*Memory)(nil)

// Option configures Memory.
type Option func(*Memory)

// WithIdle sets how long an unused bucket is kept.
func WithIdle(d time.Duration) Option { return func(m *Memory) { m.idle = d } }

func WithClock(now func() time.Time) Option { return func(m *Memory) { m.now = now } }

// NewMemory allows perSecond attempts on average with bursts of up to burst.
func NewMemory(perSecond float64, burst int, opts ...Option) *Memory {
	m := &Memory{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    5 * time.Minute,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Allow(_ context.Context, key string) (bool, time.Duration) {
	now := m.now()
	key = HashIP(key)

	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[key] = b
	}
	b.seen = now
	m.mu.Unlock()

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, m.idle
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Sweep drops buckets idle for longer than the configured idle time.
func (m *Memory) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, b := range m.buckets {
		if now.Sub(b.seen) > m.idle {
			delete(m.buckets, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
