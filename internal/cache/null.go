package cache

import (
	"context"
	"time"
)

// Null is a driver that stores nothing. Reads miss, writes report false
// and Remember always runs the producer.
type Null struct{}

var _ Cache = Null{}

// NewNull returns the no-op driver.
func NewNull() Null { return Null{} }

func (Null) Initialize(context.Context) error { return nil }
func (Null) IsClosed() bool                   { return false }
func (Null) Prefix() string                   { return "" }
func (Null) SetPrefix(string)                 {}

func (Null) Get(context.Context, string) ([]byte, error) { return nil, nil }

func (Null) Put(context.Context, string, []byte, time.Duration) (bool, error) { return false, nil }

func (Null) GetMany(context.Context, ...string) ([][]byte, error) { return nil, nil }

func (Null) PutMany(context.Context, []Entry, time.Duration) (bool, error) { return false, nil }

func (Null) Forget(context.Context, ...string) (bool, error) { return true, nil }

func (Null) ForgetByPattern(context.Context, string) (bool, error) { return true, nil }

func (Null) Remember(ctx context.Context, _ string, _ time.Duration, fn Producer) ([]byte, error) {
	return fn(ctx)
}

func (n Null) RememberForever(ctx context.Context, key string, fn Producer) ([]byte, error) {
	return n.Remember(ctx, key, 0, fn)
}

func (Null) Flush(context.Context) (bool, error) { return true, nil }
func (Null) Quit(context.Context) (bool, error)  { return true, nil }
