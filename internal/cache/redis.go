package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the redis driver.
type RedisConfig struct {
	Host     string
	Port     int
	DB       int
	Password string
	Timeout  time.Duration // per call; 0 means 30s
}

const defaultRedisTimeout = 30 * time.Second

// errDown is returned internally once the connection is known to be dead.
var errDown = errors.New("cache: connection closed")

// Redis is a prefixed driver backed by go-redis.
type Redis struct {
	cfg RedisConfig
	log *zap.Logger

	mu     sync.RWMutex
	prefix string

	client *redis.Client
	closed atomic.Bool
}

var _ Cache = (*Redis)(nil)

// NewRedis constructs a redis driver. It stays closed until Initialize succeeds.
func NewRedis(prefix string, cfg RedisConfig, log *zap.Logger) *Redis {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Redis{cfg: cfg, log: log, prefix: prefix}
	r.closed.Store(true)
	return r
}

// Initialize connects and pings the server. A refused connection leaves the
// driver closed without returning an error; any other failure closes the
// client and is returned.
func (r *Redis) Initialize(ctx context.Context) error {
	r.client = redis.NewClient(&redis.Options{
		Addr:                  net.JoinHostPort(r.cfg.Host, strconv.Itoa(r.cfg.Port)),
		Password:              r.cfg.Password,
		DB:                    r.cfg.DB,
		ContextTimeoutEnabled: true,
	})
	r.closed.Store(false)

	err := r.call(ctx, func(ctx context.Context) error {
		return r.client.Ping(ctx).Err()
	})
	if err == nil || errors.Is(err, errDown) {
		return nil
	}
	r.closed.Store(true)
	_ = r.client.Close()
	return err
}

// IsClosed reports whether the connection was refused or closed.
func (r *Redis) IsClosed() bool { return r.closed.Load() }

func (r *Redis) Prefix() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prefix
}

func (r *Redis) SetPrefix(prefix string) {
	r.mu.Lock()
	r.prefix = prefix
	r.mu.Unlock()
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := r.call(ctx, func(ctx context.Context) error {
		b, err := r.client.Get(ctx, r.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		val = b
		return err
	})
	return val, quiet(err)
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var res string
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.client.Set(ctx, r.key(key), value, expiry(ttl)).Result()
		return err
	})
	return res == "OK", quiet(err)
}

func (r *Redis) GetMany(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	var out [][]byte
	err := r.call(ctx, func(ctx context.Context) error {
		vals, err := r.client.MGet(ctx, full...).Result()
		if err != nil {
			return err
		}
		out = make([][]byte, len(vals))
		for i, v := range vals {
			if s, ok := v.(string); ok {
				out[i] = []byte(s)
			}
		}
		return nil
	})
	return out, quiet(err)
}

func (r *Redis) PutMany(ctx context.Context, entries []Entry, ttl time.Duration) (bool, error) {
	if len(entries) == 0 {
		return true, nil
	}
	err := r.call(ctx, func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, e := range entries {
				pipe.Set(ctx, r.key(e.Key), e.Value, expiry(ttl))
			}
			return nil
		})
		return err
	})
	if err != nil {
		return false, quiet(err)
	}
	return true, nil
}

func (r *Redis) Forget(ctx context.Context, keys ...string) (bool, error) {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.del(ctx, full)
}

// ForgetByPattern scans prefix+pattern and deletes every match.
// Nothing to delete counts as success.
func (r *Redis) ForgetByPattern(ctx context.Context, pattern string) (bool, error) {
	if pattern == "" {
		pattern = "*"
	}
	var keys []string
	err := r.call(ctx, func(ctx context.Context) error {
		it := r.client.Scan(ctx, 0, r.key(pattern), 100).Iterator()
		for it.Next(ctx) {
			keys = append(keys, it.Val())
		}
		return it.Err()
	})
	if err != nil {
		return false, quiet(err)
	}
	if len(keys) == 0 {
		return true, nil
	}
	return r.del(ctx, keys)
}

// Remember returns the cached value for key or stores the producer result.
// On a closed connection the producer runs without touching the store.
func (r *Redis) Remember(ctx context.Context, key string, ttl time.Duration, fn Producer) ([]byte, error) {
	if r.IsClosed() {
		return fn(ctx)
	}
	val, err := r.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}
	data, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if !isEmpty(data) {
		if _, err := r.Put(ctx, key, data, ttl); err != nil {
			return nil, err
		}
	}
	return data, nil
}

func (r *Redis) RememberForever(ctx context.Context, key string, fn Producer) ([]byte, error) {
	return r.Remember(ctx, key, 0, fn)
}

func (r *Redis) Flush(ctx context.Context) (bool, error) {
	var res string
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.client.FlushDB(ctx).Result()
		return err
	})
	return res == "OK", quiet(err)
}

// Quit closes the client; the driver reports closed afterwards.
func (r *Redis) Quit(context.Context) (bool, error) {
	if r.client == nil || r.closed.Swap(true) {
		return true, nil
	}
	if err := r.client.Close(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) del(ctx context.Context, keys []string) (bool, error) {
	if len(keys) == 0 {
		return false, nil
	}
	var n int64
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		n, err = r.client.Del(ctx, keys...).Result()
		return err
	})
	return n > 0, quiet(err)
}

func (r *Redis) key(k string) string { return r.Prefix() + k }

// call runs fn bounded by the configured timeout and classifies the error.
func (r *Redis) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.client == nil || r.IsClosed() {
		return errDown
	}
	cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	err := fn(cctx)
	if err == nil {
		return nil
	}
	if connDown(err) {
		r.markClosed(err)
		return errDown
	}
	if ctx.Err() == nil && isTimeout(err) {
		return fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
	}
	return err
}

func (r *Redis) markClosed(cause error) {
	if r.closed.Swap(true) {
		return
	}
	r.log.Warn("redis connection lost, driver closed", zap.Error(cause))
	_ = r.client.Close()
}

func connDown(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, net.ErrClosed)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// quiet hides the dead-connection marker from callers.
func quiet(err error) error {
	if err == nil || errors.Is(err, errDown) {
		return nil
	}
	r.closed.Store(true)
	_ = r.client.Close()
	return err
}

func expiry(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
