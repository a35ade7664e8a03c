package cache

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKey_StableAndDistinct(t *testing.T) {
	t.Parallel()

	a := GenerateKey(map[string]any{"q": "users", "page": 1})
	b := GenerateKey(map[string]any{"page": 1, "q": "users"})
	c := GenerateKey(map[string]any{"q": "users", "page": 2})

	require.Len(t, a, 32)
	require.Equal(t, a, b, "map key order must not matter")
	require.NotEqual(t, a, c)
	require.Equal(t, GenerateKey(""), GenerateKey(""))
}

func TestGenerateKey_UnencodableSourcesStayDistinct(t *testing.T) {
	t.Parallel()

	ch1, ch2 := make(chan int), make(chan int)
	keys := map[string]string{
		"empty": GenerateKey(""),
		"ch1":   GenerateKey(ch1),
		"ch2":   GenerateKey(ch2),
		"nan":   GenerateKey(math.NaN()),
		"inf":   GenerateKey(math.Inf(1)),
	}
	seen := map[string]string{}
	for name, k := range keys {
		require.Len(t, k, 32, name)
		if other, dup := seen[k]; dup {
			t.Fatalf("%s and %s share key %s", name, other, k)
		}
		seen[k] = name
	}
	require.Equal(t, keys["ch1"], GenerateKey(ch1))
}

func TestIsEmpty(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"", " ", "null", `""`, "{}", "[]"} {
		if !isEmpty([]byte(v)) {
			t.Fatalf("%q should be empty", v)
		}
	}
	for _, v := range []string{"0", "false", `{"a":1}`, "[1]", "x"} {
		if isEmpty([]byte(v)) {
			t.Fatalf("%q should not be empty", v)
		}
	}
}

func TestNull_Contract(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	n := NewNull()

	require.NoError(t, n.Initialize(ctx))
	require.False(t, n.IsClosed())
	n.SetPrefix("p:")
	require.Equal(t, "", n.Prefix())

	v, err := n.Get(ctx, "k")
	require.NoError(t, err)
	require.Nil(t, v)

	ok, err := n.Put(ctx, "k", []byte("v"), 0)
	require.NoError(t, err)
	require.False(t, ok)

	ok, _ = n.PutMany(ctx, []Entry{{Key: "a", Value: []byte("1")}}, 0)
	require.False(t, ok)

	vs, _ := n.GetMany(ctx, "a", "b")
	require.Nil(t, vs)

	ok, _ = n.Forget(ctx, "a")
	require.True(t, ok)
	ok, _ = n.ForgetByPattern(ctx, "*")
	require.True(t, ok)
	ok, _ = n.Flush(ctx)
	require.True(t, ok)
	ok, _ = n.Quit(ctx)
	require.True(t, ok)

	calls := 0
	fn := func(context.Context) ([]byte, error) { calls++; return []byte("fresh"), nil }
	got, err := n.Remember(ctx, "k", OneHour, fn)
	require.NoError(t, err)
	require.Equal(t, "fresh", string(got))
	got, _ = n.RememberForever(ctx, "k", fn)
	require.Equal(t, "fresh", string(got))
	require.Equal(t, 2, calls, "null driver never caches")

	boom := errors.New("boom")
	_, err = n.Remember(ctx, "k", 0, func(context.Context) ([]byte, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
}

type profile struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestRememberJSON_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	got, err := RememberJSON(ctx, NewNull(), "p", TenMinutes, func(context.Context) (profile, error) {
		return profile{Name: "a", Age: 3}, nil
	})
	require.NoError(t, err)
	require.Equal(t, profile{Name: "a", Age: 3}, got)

	_, err = RememberJSON(ctx, NewNull(), "p", TenMinutes, func(context.Context) (profile, error) {
		return profile{}, errors.New("nope")
	})
	require.Error(t, err)
}
