package directory

import (
	"context"
	"time"

	"github.com/and161185/portal-auth/internal/cache"
	"go.uber.org/zap"
)

// Cached memoizes photo lookups. Membership is always checked live.
type Cached struct {
	next  Directory
	store cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

var _ Directory = (*Cached)(nil)

// NewCached wraps next; photos are kept for ttl.
func NewCached(next Directory, store cache.Cache, ttl time.Duration, log *zap.Logger) *Cached {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cached{next: next, store: store, ttl: ttl, log: log}
}

func (c *Cached) IsActiveMember(ctx context.Context, email, groupID string) bool {
	return c.next.IsActiveMember(ctx, email, groupID)
}

func (c *Cached) GetPhoto(ctx context.Context, email string) *string {
	key := "directory_photo_" + cache.GenerateKey(email)
	photo, err := cache.RememberJSON(ctx, c.store, key, c.ttl, func(ctx context.Context) (string, error) {
		if p := c.next.GetPhoto(ctx, email); p != nil {
			return *p, nil
		}
		return "", nil
	})
	if err != nil {
		c.log.Warn("photo cache", zap.Error(err))
		return c.next.GetPhoto(ctx, email)
	}
	if photo == "" {
		return nil
	}
	return &photo
}
