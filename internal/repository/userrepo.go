// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/portal-auth/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository provides access to portal accounts.
type UserRepository interface {
	// GetByEmail loads a user by email, including inactive ones.
	// withPermissions also loads roles and their permissions.
	GetByEmail(ctx context.Context, email string, withPermissions bool) (*model.User, error)
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID, withPermissions bool) (*model.User, error)
	// Create inserts a new user; u.ID is assigned when nil.
	Create(ctx context.Context, u *model.User) error
	// Update persists profile and activity fields of an existing user.
	Update(ctx context.Context, u *model.User) error
}

// InvalidTokenRepository records tokens that must be rejected until they expire.
type InvalidTokenRepository interface {
	// Get returns the stored value, or "" when the token is not invalidated.
	Get(ctx context.Context, userID, token string) (string, error)
	// CreateMany stores all entries, each with its own expiration.
	CreateMany(ctx context.Context, tokens []model.InvalidToken) (bool, error)
	// DeleteAll drops every invalidation entry.
	DeleteAll(ctx context.Context) (bool, error)
}
