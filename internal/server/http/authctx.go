package httpserver

import (
	"context"

	"github.com/and161185/portal-auth/internal/model"
)

type ctxKey string

const (
	userKey  ctxKey = "portal.user"
	tokenKey ctxKey = "portal.authToken"
)

// WithUser stores the authenticated user and the raw bearer token in context.
func WithUser(ctx context.Context, u *model.AccessPayload, token string) context.Context {
	ctx = context.WithValue(ctx, userKey, u)
	return context.WithValue(ctx, tokenKey, token)
}

// UserFromCtx fetches the authenticated user from context.
func UserFromCtx(ctx context.Context) (*model.AccessPayload, bool) {
	u, ok := ctx.Value(userKey).(*model.AccessPayload)
	return u, ok && u != nil
}

// AuthTokenFromCtx returns the raw bearer token of the request.
func AuthTokenFromCtx(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tokenKey).(string)
	return t, ok && t != ""
}
