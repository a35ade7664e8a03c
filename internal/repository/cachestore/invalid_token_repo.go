// Package cachestore implements repositories on top of the cache abstraction.
package cachestore

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/portal-auth/internal/cache"
	"github.com/and161185/portal-auth/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const invalidTokenPrefix = "auth_token_"

// InvalidTokenRepo stores logged-out tokens in the cache until their natural expiry.
type InvalidTokenRepo struct {
	store cache.Cache
	log   *zap.Logger
}

// NewInvalidTokenRepo constructs the repository.
func NewInvalidTokenRepo(store cache.Cache, log *zap.Logger) *InvalidTokenRepo {
	if log == nil {
		log = zap.NewNop()
	}
	return &InvalidTokenRepo{store: store, log: log}
}

// Key builds the cache key for a user's token.
func Key(userID, token string) string {
	return fmt.Sprintf("%s_%s_%s", invalidTokenPrefix, userID, token)
}

// Get returns the invalidated token value or "".
func (r *InvalidTokenRepo) Get(ctx context.Context, userID, token string) (string, error) {
	v, err := r.store.Get(ctx, Key(userID, token))
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// CreateMany writes all entries concurrently. Write failures are logged and
// do not fail the call. Entries that already expired are skipped.
func (r *InvalidTokenRepo) CreateMany(ctx context.Context, tokens []model.InvalidToken) (bool, error) {
	var g errgroup.Group
	for _, t := range tokens {
		if t.Expiration <= 0 {
			continue
		}
		g.Go(func() error {
			ttl := time.Duration(t.Expiration) * time.Second
			if _, err := r.store.Put(ctx, Key(t.UserID, t.Value), []byte(t.Value), ttl); err != nil {
				r.log.Warn("invalidate token", zap.String("user_id", t.UserID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return true, nil
}

// DeleteAll removes every invalidation entry.
func (r *InvalidTokenRepo) DeleteAll(ctx context.Context) (bool, error) {
	return r.store.ForgetByPattern(ctx, "*"+invalidTokenPrefix+"*")
}
