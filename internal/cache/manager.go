package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/and161185/portal-auth/internal/metrics"
	"go.uber.org/zap"
)

// Config selects and configures the active driver.
type Config struct {
	Driver string
	Prefix string
	Redis  RedisConfig
}

// Factory builds an uninitialized driver.
type Factory func(cfg Config, log *zap.Logger) Cache

// Manager is the cache front door. It keeps one instance per driver name and
// serves the null driver once the configured one reports closed.
type Manager struct {
	cfg       Config
	log       *zap.Logger
	met       *metrics.Metrics
	reconnect time.Duration
	now       func() time.Time

	mu            sync.Mutex
	drivers       map[string]Factory
	created       map[string]Cache
	client        Cache
	clientName    string
	connecting    bool
	degradedSince time.Time
}

var _ Cache = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the manager and its drivers.
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// WithMetrics records per-driver operation counters.
func WithMetrics(met *metrics.Metrics) Option { return func(m *Manager) { m.met = met } }

// WithDriver registers or replaces a driver factory.
func WithDriver(name string, f Factory) Option {
	return func(m *Manager) { m.drivers[name] = f }
}

// WithReconnectInterval lets the manager retry the configured driver after it
// has been serving the null driver for d. Zero disables retries.
func WithReconnectInterval(d time.Duration) Option {
	return func(m *Manager) { m.reconnect = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager builds a manager with the null and redis drivers registered.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cfg: cfg,
		log: zap.NewNop(),
		now: time.Now,
		drivers: map[string]Factory{
			DriverNull: func(Config, *zap.Logger) Cache { return NewNull() },
			DriverRedis: func(c Config, l *zap.Logger) Cache {
				return NewRedis(c.Prefix, c.Redis, l)
			},
		},
		created: map[string]Cache{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Client returns the active driver, falling back to the null driver when the
// configured one is closed or failed to initialize. Drivers are initialized
// outside the lock; calls arriving meanwhile are served by the null driver.
func (m *Manager) Client(ctx context.Context) Cache {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := m.cfg.Driver
	if _, ok := m.drivers[name]; !ok {
		name = DriverNull
	}

	if !m.degradedSince.IsZero() {
		if m.reconnect <= 0 || m.now().Sub(m.degradedSince) < m.reconnect {
			return m.nullLocked(ctx)
		}
		m.degradedSince = time.Time{}
	}

	if m.client == nil {
		if m.connecting {
			return m.nullLocked(ctx)
		}
		c, ok := m.created[name]
		if !ok {
			var err error
			if c, err = m.connect(ctx, name); err != nil {
				m.log.Error("cache driver init failed, using null driver",
					zap.String("driver", name), zap.Error(err))
				return m.degradeLocked(ctx, name)
			}
			m.created[name] = c
		}
		m.client, m.clientName = c, name
	}

	if m.client.IsClosed() {
		m.log.Warn("cache driver closed, using null driver", zap.String("driver", name))
		return m.degradeLocked(ctx, name)
	}
	return m.client
}

// connect builds and initializes driver name with m.mu released.
// It must be called with m.mu held and returns with it held.
func (m *Manager) connect(ctx context.Context, name string) (Cache, error) {
	m.connecting = true
	f := m.drivers[name]
	m.mu.Unlock()

	c := f(m.cfg, m.log)
	err := c.Initialize(ctx)

	m.mu.Lock()
	m.connecting = false
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Reset discards the active client so the next call re-creates the configured driver.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		delete(m.created, m.clientName)
	}
	m.client, m.clientName = nil, ""
	m.degradedSince = time.Time{}
}

// DriverName reports the name of the driver currently serving calls.
func (m *Manager) DriverName(ctx context.Context) string {
	c := m.Client(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if c == m.client {
		return m.clientName
	}
	return DriverNull
}

// ErrDegraded is reported by Ping while the null driver stands in for the configured one.
var ErrDegraded = errors.New("cache: serving null driver")

// Ping reports whether the configured driver is the one serving calls.
func (m *Manager) Ping(ctx context.Context) error {
	want := m.cfg.Driver
	if _, ok := m.drivers[want]; !ok {
		want = DriverNull
	}
	if got := m.DriverName(ctx); got != want {
		return fmt.Errorf("%w: want %s, got %s", ErrDegraded, want, got)
	}
	return nil
}

func (m *Manager) degradeLocked(ctx context.Context, name string) Cache {
	delete(m.created, name)
	m.client, m.clientName = nil, ""
	m.degradedSince = m.now()
	return m.nullLocked(ctx)
}

func (m *Manager) nullLocked(ctx context.Context) Cache {
	c, err := m.instanceLocked(ctx, DriverNull)
	if err != nil {
		return NewNull()
	}
	return c
}

func (m *Manager) instanceLocked(ctx context.Context, name string) (Cache, error) {
	if c, ok := m.created[name]; ok {
		return c, nil
	}
	c := m.drivers[name](m.cfg, m.log)
	if err := c.Initialize(ctx); err != nil {
		return nil, err
	}
	m.created[name] = c
	return c, nil
}

func (m *Manager) Initialize(ctx context.Context) error {
	m.Client(ctx)
	return nil
}

// IsClosed is always false: the manager can always serve the null driver.
func (m *Manager) IsClosed() bool { return false }

func (m *Manager) Prefix() string { return m.Client(context.Background()).Prefix() }

func (m *Manager) SetPrefix(prefix string) { m.Client(context.Background()).SetPrefix(prefix) }

func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	c := m.Client(ctx)
	v, err := c.Get(ctx, key)
	m.record(c, "get", err, v != nil)
	return v, err
}

func (m *Manager) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c := m.Client(ctx)
	ok, err := c.Put(ctx, key, value, ttl)
	m.record(c, "put", err, ok)
	return ok, err
}

func (m *Manager) GetMany(ctx context.Context, keys ...string) ([][]byte, error) {
	return m.Client(ctx).GetMany(ctx, keys...)
}

func (m *Manager) PutMany(ctx context.Context, entries []Entry, ttl time.Duration) (bool, error) {
	return m.Client(ctx).PutMany(ctx, entries, ttl)
}

func (m *Manager) Forget(ctx context.Context, keys ...string) (bool, error) {
	return m.Client(ctx).Forget(ctx, keys...)
}

func (m *Manager) ForgetByPattern(ctx context.Context, pattern string) (bool, error) {
	return m.Client(ctx).ForgetByPattern(ctx, pattern)
}

// Remember delegates to the active driver. If the driver fails and is closed
// by then, the producer result is returned directly instead of the error.
func (m *Manager) Remember(ctx context.Context, key string, ttl time.Duration, fn Producer) ([]byte, error) {
	c := m.Client(ctx)
	v, err := c.Remember(ctx, key, ttl, fn)
	if err != nil && c.IsClosed() {
		return fn(ctx)
	}
	return v, err
}

func (m *Manager) RememberForever(ctx context.Context, key string, fn Producer) ([]byte, error) {
	return m.Remember(ctx, key, 0, fn)
}

func (m *Manager) Flush(ctx context.Context) (bool, error) {
	return m.Client(ctx).Flush(ctx)
}

func (m *Manager) Quit(ctx context.Context) (bool, error) {
	return m.Client(ctx).Quit(ctx)
}

// Close quits every created driver.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.created {
		if _, err := c.Quit(ctx); err != nil {
			m.log.Warn("cache quit", zap.String("driver", name), zap.Error(err))
		}
	}
}

func (m *Manager) record(c Cache, op string, err error, ok bool) {
	if m.met == nil {
		return
	}
	driver := DriverNull
	m.mu.Lock()
	if c == m.client {
		driver = m.clientName
	}
	m.mu.Unlock()

	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case ok:
		result = "hit"
	}
	m.met.Cache(driver, op, result)
}
