// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Claim is a normalized identity assertion produced by an external provider.
// It is consumed once by login and never persisted as-is.
type Claim struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Permission is a named capability granted through a role.
type Permission struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Role groups permissions; Level orders roles by privilege.
type Role struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	Level       int          `json:"level"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// User is the local portal account.
type User struct {
	ID             uuid.UUID      // PK
	Email          string         // unique
	Name           string         //
	Avatar         string         // directory thumbnail URL
	Active         bool           // false blocks login
	IsSuperAdmin   bool           //
	Preferences    map[string]any // jsonb
	AdminAppUserID *string        // link to the external admin app
	Roles          []Role         // ordered; only the first is used for tokens
	JoinedAt       *time.Time
	InvitedAt      *time.Time
	LastActive     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Tokens is the login result. Expiration is the access token expiry in epoch milliseconds.
type Tokens struct {
	Access     string `json:"access,omitempty"`
	Refresh    string `json:"refresh"`
	Expiration int64  `json:"expiration,omitempty"`
}

// AccessToken is the refresh result.
type AccessToken struct {
	Access     string `json:"access"`
	Expiration int64  `json:"expiration"`
}

// AuthTokens is the pair presented on logout. Refresh may be empty.
type AuthTokens struct {
	Access  string
	Refresh string
}

// InvalidToken marks a raw token value as unusable for Expiration seconds.
type InvalidToken struct {
	UserID     string
	Value      string
	Expiration int64
}
