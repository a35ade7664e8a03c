// Package directory checks group membership and profile photos in the
// Google Workspace admin directory.
package directory

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Directory is consumed by the auth service. Both lookups fail closed.
type Directory interface {
	// IsActiveMember reports whether email is an ACTIVE member of groupID.
	IsActiveMember(ctx context.Context, email, groupID string) bool
	// GetPhoto returns the thumbnail photo URL of the user, or nil.
	GetPhoto(ctx context.Context, email string) *string
}

const statusActive = "ACTIVE"

var (
	memberFields = googleapi.Field("email,role,status,type")
	userFields   = googleapi.Field("id,primaryEmail,name,thumbnailPhotoUrl,suspended")
)

// Google implements Directory over the Admin SDK.
type Google struct {
	svc *admin.Service
	log *zap.Logger
}

var _ Directory = (*Google)(nil)

// NewGoogle wraps an Admin SDK service.
func NewGoogle(svc *admin.Service, log *zap.Logger) *Google {
	if log == nil {
		log = zap.NewNop()
	}
	return &Google{svc: svc, log: log}
}

// NewService builds an Admin SDK client from a service-account key file.
// subject, when set, is the workspace admin impersonated through domain-wide delegation.
func NewService(ctx context.Context, keyPath, subject string) (*admin.Service, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read google key: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(key,
		admin.AdminDirectoryUserReadonlyScope,
		admin.AdminDirectoryGroupMemberReadonlyScope,
	)
	if err != nil {
		return nil, fmt.Errorf("parse google key: %w", err)
	}
	conf.Subject = subject
	return admin.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
}

// GetUser returns the directory record for userKey (email or id), or nil on any error.
func (g *Google) GetUser(ctx context.Context, userKey string) *admin.User {
	u, err := g.svc.Users.Get(userKey).Fields(userFields).Context(ctx).Do()
	if err != nil {
		g.log.Error("directory get user", zap.String("user", userKey), zap.Error(err))
		return nil
	}
	return u
}

func (g *Google) GetPhoto(ctx context.Context, email string) *string {
	u := g.GetUser(ctx, email)
	if u == nil || u.ThumbnailPhotoUrl == "" {
		return nil
	}
	photo := u.ThumbnailPhotoUrl
	return &photo
}

func (g *Google) IsActiveMember(ctx context.Context, email, groupID string) bool {
	m, err := g.svc.Members.Get(groupID, email).Fields(memberFields).Context(ctx).Do()
	if err != nil {
		g.log.Error("directory get member", zap.String("member", email), zap.String("group", groupID), zap.Error(err))
		return false
	}
	if m == nil || m.Status != statusActive {
		g.log.Warn("member is not active", zap.String("member", email), zap.String("group", groupID))
		return false
	}
	return true
}

// Closed denies every membership and has no photos. It stands in when no
// service account is configured.
type Closed struct{}

var _ Directory = Closed{}

func (Closed) IsActiveMember(context.Context, string, string) bool { return false }

func (Closed) GetPhoto(context.Context, string) *string { return nil }
