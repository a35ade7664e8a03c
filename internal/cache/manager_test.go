package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/and161185/portal-auth/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// fakeDriver is an in-memory driver whose closed state and errors are controllable.
type fakeDriver struct {
	Null
	data       map[string][]byte
	closed     atomic.Bool
	initErr    error
	getErr     error
	closeOnGet bool // simulates the connection dropping during a read
	initGate   chan struct{}
	initStart  chan struct{}
	inits      int
	puts       int
}

var _ Cache = (*fakeDriver)(nil)

func newFake() *fakeDriver { return &fakeDriver{data: map[string][]byte{}} }

func (f *fakeDriver) Initialize(context.Context) error {
	if f.initStart != nil {
		close(f.initStart)
		<-f.initGate
	}
	f.inits++
	return f.initErr
}

func (f *fakeDriver) IsClosed() bool { return f.closed.Load() }

func (f *fakeDriver) Get(_ context.Context, key string) ([]byte, error) {
	if f.closeOnGet {
		f.closed.Store(true)
		return nil, errors.New("connection reset")
	}
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.data[key], nil
}

func (f *fakeDriver) Put(_ context.Context, key string, v []byte, _ time.Duration) (bool, error) {
	f.puts++
	f.data[key] = v
	return true, nil
}

func (f *fakeDriver) Remember(ctx context.Context, key string, ttl time.Duration, fn Producer) ([]byte, error) {
	v, err := f.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if v != nil {
		return v, nil
	}
	v, err = fn(ctx)
	if err == nil && !isEmpty(v) {
		_, _ = f.Put(ctx, key, v, ttl)
	}
	return v, err
}

func fakeFactory(d *fakeDriver, created *int) Factory {
	return func(Config, *zap.Logger) Cache {
		*created++
		return d
	}
}

func TestManager_UnknownDriverFallsBackToNull(t *testing.T) {
	t.Parallel()

	m := NewManager(Config{Driver: "memcached"}, WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()
	require.IsType(t, Null{}, m.Client(ctx))
	require.Equal(t, DriverNull, m.DriverName(ctx))
}

func TestManager_SingleInstancePerDriver(t *testing.T) {
	t.Parallel()

	d := newFake()
	n := 0
	m := NewManager(Config{Driver: "fake"}, WithDriver("fake", fakeFactory(d, &n)))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.Same(t, d, m.Client(ctx))
	}
	require.Equal(t, 1, n)
	require.Equal(t, 1, d.inits)
	require.Equal(t, "fake", m.DriverName(ctx))

	ok, err := m.Put(ctx, "k", []byte("v"), 0)
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := m.Get(ctx, "k")
	require.Equal(t, "v", string(v))
}

func TestManager_ClosedClientFallsBackToNull(t *testing.T) {
	t.Parallel()

	d := newFake()
	n := 0
	m := NewManager(Config{Driver: "fake"}, WithDriver("fake", fakeFactory(d, &n)), WithLogger(zaptest.NewLogger(t)))
	ctx := context.Background()

	require.Same(t, d, m.Client(ctx))
	d.closed.Store(true)

	require.IsType(t, Null{}, m.Client(ctx))
	require.IsType(t, Null{}, m.Client(ctx), "stays on null once degraded")
	require.Equal(t, 1, n)
	require.False(t, m.IsClosed())

	d.closed.Store(false)
	m.Reset()
	require.Same(t, d, m.Client(ctx))
	require.Equal(t, 2, n, "reset re-creates the configured driver")
}

func TestManager_ReconnectInterval(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	d := newFake()
	n := 0
	m := NewManager(Config{Driver: "fake"},
		WithDriver("fake", fakeFactory(d, &n)),
		WithReconnectInterval(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	m.Client(ctx)
	d.closed.Store(true)
	require.IsType(t, Null{}, m.Client(ctx))

	d.closed.Store(false)
	now = now.Add(30 * time.Second)
	require.IsType(t, Null{}, m.Client(ctx))

	now = now.Add(31 * time.Second)
	require.Same(t, d, m.Client(ctx))
}

func TestManager_InitFailureUsesNull(t *testing.T) {
	t.Parallel()

	d := newFake()
	d.initErr = errors.New("auth failed")
	n := 0
	m := NewManager(Config{Driver: "fake"}, WithDriver("fake", fakeFactory(d, &n)), WithLogger(zaptest.NewLogger(t)))

	require.IsType(t, Null{}, m.Client(context.Background()))
}

func TestManager_SlowInitializeServesNullMeanwhile(t *testing.T) {
	t.Parallel()

	d := newFake()
	d.initStart = make(chan struct{})
	d.initGate = make(chan struct{})
	n := 0
	m := NewManager(Config{Driver: "fake"}, WithDriver("fake", fakeFactory(d, &n)))
	ctx := context.Background()

	first := make(chan Cache, 1)
	go func() { first <- m.Client(ctx) }()
	<-d.initStart

	other := make(chan Cache, 1)
	go func() { other <- m.Client(ctx) }()
	select {
	case c := <-other:
		require.IsType(t, Null{}, c)
	case <-time.After(time.Second):
		t.Fatal("Client blocked behind a driver Initialize")
	}

	close(d.initGate)
	require.Same(t, d, <-first)
	require.Same(t, d, m.Client(ctx))
	require.Equal(t, 1, n)
	require.Equal(t, 1, d.inits)
}

func TestManager_RememberOnClosedDriverCallsProducer(t *testing.T) {
	t.Parallel()

	d := newFake()
	n := 0
	m := NewManager(Config{Driver: "fake"}, WithDriver("fake", fakeFactory(d, &n)))
	ctx := context.Background()
	m.Client(ctx)
	d.closed.Store(true)

	v, err := m.Remember(ctx, "k", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("computed"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "computed", string(v))
	require.Zero(t, d.puts)
}

func TestManager_RememberErrorPropagatesWhileOpen(t *testing.T) {
	t.Parallel()

	d := newFake()
	d.getErr = ErrTimeout
	n := 0
	m := NewManager(Config{Driver: "fake"}, WithDriver("fake", fakeFactory(d, &n)))

	_, err := m.Remember(context.Background(), "k", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("x"), nil
	})
	require.ErrorIs(t, err, ErrTimeout)
}

func TestManager_RememberFallsBackWhenDriverClosesMidCall(t *testing.T) {
	t.Parallel()

	d := newFake()
	n := 0
	m := NewManager(Config{Driver: "fake"}, WithDriver("fake", fakeFactory(d, &n)))
	ctx := context.Background()
	m.Client(ctx)
	d.closeOnGet = true

	v, err := m.Remember(ctx, "k", 0, func(context.Context) ([]byte, error) { return []byte("p"), nil })
	require.NoError(t, err)
	require.Equal(t, "p", string(v))
}

func TestManager_RecordsMetrics(t *testing.T) {
	t.Parallel()

	met := metrics.New(prometheus.NewRegistry())
	d := newFake()
	n := 0
	m := NewManager(Config{Driver: "fake"}, WithDriver("fake", fakeFactory(d, &n)), WithMetrics(met))
	ctx := context.Background()

	_, _ = m.Get(ctx, "missing")
	_, _ = m.Put(ctx, "k", []byte("v"), 0)
	_, _ = m.Get(ctx, "k")

	require.Equal(t, 1.0, testutil.ToFloat64(met.CacheOps.WithLabelValues("fake", "get", "miss")))
	require.Equal(t, 1.0, testutil.ToFloat64(met.CacheOps.WithLabelValues("fake", "get", "hit")))
	require.Equal(t, 1.0, testutil.ToFloat64(met.CacheOps.WithLabelValues("fake", "put", "hit")))
}

func TestManager_Ping(t *testing.T) {
	t.Parallel()

	d := newFake()
	var created int
	m := NewManager(Config{Driver: "fake"}, WithDriver("fake", fakeFactory(d, &created)))
	ctx := context.Background()

	require.NoError(t, m.Ping(ctx))

	d.closed.Store(true)
	require.ErrorIs(t, m.Ping(ctx), ErrDegraded)

	require.NoError(t, NewManager(Config{Driver: "memcached"}).Ping(ctx), "unknown drivers are served by null as configured")
}
