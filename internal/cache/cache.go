// Package cache provides a driver-based key-value cache with a no-op fallback.
package cache

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Driver names understood by the Manager.
const (
	DriverNull  = "null"
	DriverRedis = "redis"
)

// Common TTL presets.
const (
	TenMinutes    = 10 * time.Minute
	ThirtyMinutes = 30 * time.Minute
	OneHour       = time.Hour
	HalfDay       = 12 * time.Hour
	OneDay        = 24 * time.Hour
	TwoDays       = 2 * OneDay
	OneWeek       = 7 * OneDay
)

// ErrTimeout is returned when a cache round-trip exceeds the configured timeout.
var ErrTimeout = errors.New("cache: timed out")

// Producer computes a value on a cache miss.
type Producer func(ctx context.Context) ([]byte, error)

// Entry is a key/value pair for PutMany.
type Entry struct {
	Key   string
	Value []byte
}

// Cache is implemented by every driver. A ttl of 0 stores without expiry.
type Cache interface {
	// Initialize creates the underlying client.
	Initialize(ctx context.Context) error
	// IsClosed reports whether the driver lost its connection.
	IsClosed() bool
	// Prefix returns the key prefix.
	Prefix() string
	// SetPrefix replaces the key prefix.
	SetPrefix(prefix string)
	// Get returns the value for key, or nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// GetMany returns values in key order; misses are nil.
	GetMany(ctx context.Context, keys ...string) ([][]byte, error)
	// PutMany stores all entries with the same ttl.
	PutMany(ctx context.Context, entries []Entry, ttl time.Duration) (bool, error)
	// Forget deletes keys.
	Forget(ctx context.Context, keys ...string) (bool, error)
	// ForgetByPattern deletes keys matching a glob pattern.
	ForgetByPattern(ctx context.Context, pattern string) (bool, error)
	// Remember returns the cached value or stores the producer result.
	Remember(ctx context.Context, key string, ttl time.Duration, fn Producer) ([]byte, error)
	// RememberForever is Remember without expiry.
	RememberForever(ctx context.Context, key string, fn Producer) ([]byte, error)
	// Flush drops every key in the store.
	Flush(ctx context.Context) (bool, error)
	// Quit closes the connection.
	Quit(ctx context.Context) (bool, error)
}

// GenerateKey returns a stable hex digest of the JSON encoding of source.
// Values JSON cannot encode (channels, funcs, NaN) are digested from their
// Go-syntax form instead, so they neither collide with each other nor with
// any JSON-encodable source.
func GenerateKey(source any) string {
	b, err := json.Marshal(source)
	if err != nil {
		b = []byte(fmt.Sprintf("%T %#v", source, source))
	}
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// RememberJSON is a typed Remember: the producer result is stored as JSON.
func RememberJSON[T any](ctx context.Context, c Cache, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, err := c.Remember(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

var emptyJSON = [][]byte{[]byte("null"), []byte(`""`), []byte("{}"), []byte("[]")}

// isEmpty reports whether a produced value is not worth caching.
func isEmpty(b []byte) bool {
	t := bytes.TrimSpace(b)
	if len(t) == 0 {
		return true
	}
	for _, e := range emptyJSON {
		if bytes.Equal(t, e) {
			return true
		}
	}
	return false
}
