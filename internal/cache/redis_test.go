package cache

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRedis(t *testing.T, prefix string) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	r := NewRedis(prefix, RedisConfig{Host: mr.Host(), Port: port, Timeout: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, r.Initialize(context.Background()))
	t.Cleanup(func() { _, _ = r.Quit(context.Background()) })
	return r, mr
}

func TestRedis_PutGetWithPrefixAndTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, mr := newTestRedis(t, "app:")

	require.False(t, r.IsClosed())
	ok, err := r.Put(ctx, "k", []byte("v"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	raw, err := mr.Get("app:k")
	require.NoError(t, err)
	require.Equal(t, "v", raw)
	require.Equal(t, time.Minute, mr.TTL("app:k"))

	v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(v))

	miss, err := r.Get(ctx, "absent")
	require.NoError(t, err)
	require.Nil(t, miss)

	mr.FastForward(2 * time.Minute)
	gone, err := r.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, gone)

	r.SetPrefix("other:")
	require.Equal(t, "other:", r.Prefix())
}

func TestRedis_ManyAndForget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, mr := newTestRedis(t, "p_")

	ok, err := r.PutMany(ctx, []Entry{
		{Key: "a", Value: []byte("1")},
		{Key: "b", Value: []byte("2")},
	}, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, mr.Exists("p_a"))

	vals, err := r.GetMany(ctx, "a", "missing", "b")
	require.NoError(t, err)
	require.Len(t, vals, 3)
	require.Equal(t, "1", string(vals[0]))
	require.Nil(t, vals[1])
	require.Equal(t, "2", string(vals[2]))

	ok, err = r.Forget(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, mr.Exists("p_a"))

	ok, err = r.Forget(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok, "deleting a missing key reports false")
}

func TestRedis_ForgetByPattern(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, mr := newTestRedis(t, "")

	for _, k := range []string{"auth_token__u1_x", "auth_token__u2_y", "keep"} {
		require.NoError(t, mr.Set(k, "1"))
	}

	ok, err := r.ForgetByPattern(ctx, "*auth_token_*")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, mr.Exists("auth_token__u1_x"))
	require.False(t, mr.Exists("auth_token__u2_y"))
	require.True(t, mr.Exists("keep"))

	ok, err = r.ForgetByPattern(ctx, "nothing_*")
	require.NoError(t, err)
	require.True(t, ok, "no match is success")
}

func TestRedis_RememberStoresNonEmptyOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, mr := newTestRedis(t, "")

	calls := 0
	fn := func(context.Context) ([]byte, error) { calls++; return []byte(`{"a":1}`), nil }

	v, err := r.Remember(ctx, "k", time.Hour, fn)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(v))
	v, err = r.Remember(ctx, "k", time.Hour, fn)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(v))
	require.Equal(t, 1, calls)

	_, err = r.RememberForever(ctx, "empty", func(context.Context) ([]byte, error) { return []byte("[]"), nil })
	require.NoError(t, err)
	require.False(t, mr.Exists("empty"))

	boom := errors.New("boom")
	_, err = r.Remember(ctx, "err", 0, func(context.Context) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
}

func TestRedis_FlushAndQuit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, mr := newTestRedis(t, "")

	require.NoError(t, mr.Set("x", "1"))
	ok, err := r.Flush(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, mr.Exists("x"))

	ok, err = r.Quit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, r.IsClosed())

	v, err := r.Get(ctx, "x")
	require.NoError(t, err, "closed driver does not throw")
	require.Nil(t, v)
}

func TestRedis_RefusedConnectionMarksClosed(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	r := NewRedis("", RedisConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second}, zaptest.NewLogger(t))
	require.NoError(t, r.Initialize(context.Background()))
	require.True(t, r.IsClosed())

	ok, err := r.Put(context.Background(), "k", []byte("v"), 0)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedis_FailedInitializeClosesClient(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.RequireAuth("secret")

	r := NewRedis("", RedisConfig{Host: mr.Host(), Port: port, Timeout: time.Second}, zaptest.NewLogger(t))
	require.Error(t, r.Initialize(context.Background()))
	require.True(t, r.IsClosed())

	v, err := r.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestRedis_TimeoutIsDistinguishable(t *testing.T) {
	t.Parallel()

	// Accepts TCP connections but never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	port := ln.Addr().(*net.TCPAddr).Port

	r := NewRedis("", RedisConfig{Host: "127.0.0.1", Port: port, Timeout: 100 * time.Millisecond}, zaptest.NewLogger(t))
	err = r.Initialize(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.False(t, r.IsClosed())
}

func TestRedis_RememberOnClosedDriverSkipsStore(t *testing.T) {
	t.Parallel()

	r := NewRedis("", RedisConfig{Host: "127.0.0.1", Port: 1}, zaptest.NewLogger(t))
	require.True(t, r.IsClosed(), "uninitialized driver is closed")

	v, err := r.Remember(context.Background(), "k", time.Minute, func(context.Context) ([]byte, error) {
		return []byte("direct"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "direct", string(v))
}
