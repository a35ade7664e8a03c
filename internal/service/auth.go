// Package service contains the portal authentication service.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/portal-auth/internal/directory"
	"github.com/and161185/portal-auth/internal/errs"
	"github.com/and161185/portal-auth/internal/metrics"
	"github.com/and161185/portal-auth/internal/model"
	"github.com/and161185/portal-auth/internal/repository"
)

const (
	// DefaultAccessTTL is the access token lifetime when none is configured.
	DefaultAccessTTL = 5 * time.Minute
	// OneDay is the lifetime of refresh and invite tokens.
	OneDay = 24 * time.Hour

	// EventInvited marks invite tokens.
	EventInvited = "INVITED"
)

// AuthService defines session issuance and verification.
type AuthService interface {
	// Login upserts the local user for claim and issues a token pair.
	Login(ctx context.Context, claim *model.Claim) (model.Tokens, error)
	// Refresh issues a new access token, or nil when the refresh token is no longer good.
	Refresh(ctx context.Context, token string) *model.AccessToken
	// Logout invalidates both tokens of userID until they expire.
	Logout(ctx context.Context, userID string, tokens model.AuthTokens) bool
	// VerifyValidToken returns the claims of a valid, not logged out token.
	VerifyValidToken(ctx context.Context, token string) (jwt.MapClaims, bool)
	// GenerateInviteToken mints a one day token for the invitation flow.
	GenerateInviteToken(userID string) (string, error)
	// GenerateJwt signs payload with issuer and audience set to the host.
	GenerateJwt(payload any, ttl time.Duration) (string, error)
	// Sign signs raw claims.
	Sign(claims jwt.Claims) (string, error)
	// GetByEmail loads a user including inactive ones.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// Parse verifies signature and registered claims without consulting the blacklist.
	Parse(token string) (jwt.MapClaims, error)
}

type AuthServiceImpl struct {
	users         repository.UserRepository
	invalidTokens repository.InvalidTokenRepository
	dir           directory.Directory

	signKey     []byte
	host        string
	accessTTL   time.Duration
	userGroupID string
	now         func() time.Time
	log         *zap.Logger
	met         *metrics.Metrics
}

var _ AuthService = (*AuthServiceImpl)(nil)

// Option configures AuthServiceImpl.
type Option func(*AuthServiceImpl)

func WithSignKey(key []byte) Option { return func(s *AuthServiceImpl) { s.signKey = key } }

// WithHost sets the iss and aud of issued tokens.
func WithHost(host string) Option { return func(s *AuthServiceImpl) { s.host = host } }

func WithAccessTTL(d time.Duration) Option {
	return func(s *AuthServiceImpl) {
		if d > 0 {
			s.accessTTL = d
		}
	}
}

// WithUserGroupID sets the directory group required to refresh.
func WithUserGroupID(id string) Option { return func(s *AuthServiceImpl) { s.userGroupID = id } }

func WithClock(now func() time.Time) Option { return func(s *AuthServiceImpl) { s.now = now } }

func WithLogger(l *zap.Logger) Option { return func(s *AuthServiceImpl) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *AuthServiceImpl) { s.met = m } }

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, invalidTokens repository.InvalidTokenRepository, dir directory.Directory, opts ...Option) *AuthServiceImpl {
	s := &AuthServiceImpl{
		users:         users,
		invalidTokens: invalidTokens,
		dir:           dir,
		accessTTL:     DefaultAccessTTL,
		now:           time.Now,
		log:           zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Login authenticates claim against the local user table.
// Deactivated users get ErrNotExist and nothing is written.
func (s *AuthServiceImpl) Login(ctx context.Context, claim *model.Claim) (model.Tokens, error) {
	if claim == nil || claim.Email == "" {
		s.met.Auth("login", "unauthenticated")
		return model.Tokens{}, errs.ErrUnauthenticated
	}

	record, err := s.users.GetByEmail(ctx, claim.Email, true)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		s.met.Auth("login", "error")
		return model.Tokens{}, fmt.Errorf("login lookup: %w", err)
	}
	if record != nil && !record.Active {
		s.met.Auth("login", "not_exist")
		return model.Tokens{}, errs.ErrNotExist
	}

	saved, err := s.saveAuthUser(ctx, claim, record)
	if record == nil && errors.Is(err, errs.ErrAlreadyExists) {
		// A concurrent first login inserted the row; update it instead.
		if record, err = s.users.GetByEmail(ctx, claim.Email, true); err != nil {
			s.met.Auth("login", "error")
			return model.Tokens{}, fmt.Errorf("login lookup: %w", err)
		}
		if !record.Active {
			s.met.Auth("login", "not_exist")
			return model.Tokens{}, errs.ErrNotExist
		}
		saved, err = s.saveAuthUser(ctx, claim, record)
	}
	if err != nil {
		s.met.Auth("login", "error")
		return model.Tokens{}, err
	}

	access, err := s.generateAccessToken(saved)
	if err != nil {
		return model.Tokens{}, err
	}
	refresh, err := s.GenerateJwt(map[string]any{"id": saved.ID.String()}, OneDay)
	if err != nil {
		return model.Tokens{}, err
	}

	s.met.Auth("login", "ok")
	s.log.Info("user logged in", zap.String("user_id", saved.ID.String()))
	return model.Tokens{Access: access.Access, Refresh: refresh, Expiration: access.Expiration}, nil
}

// saveAuthUser creates or refreshes the local record for claim.
func (s *AuthServiceImpl) saveAuthUser(ctx context.Context, claim *model.Claim, record *model.User) (*model.User, error) {
	now := s.now()
	avatar := ""
	if p := s.dir.GetPhoto(ctx, claim.Email); p != nil {
		avatar = *p
	}

	if record == nil {
		u := &model.User{
			Email:        claim.Email,
			Name:         claim.Name,
			Avatar:       avatar,
			Active:       true,
			IsSuperAdmin: false,
			JoinedAt:     &now,
			InvitedAt:    &now,
			LastActive:   &now,
		}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return u, nil
	}

	u := *record
	u.Name = claim.Name
	u.Avatar = avatar
	u.LastActive = &now
	if u.JoinedAt == nil {
		u.JoinedAt = &now
	}
	if err := s.users.Update(ctx, &u); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return &u, nil
}

// Refresh never rotates the refresh token.
func (s *AuthServiceImpl) Refresh(ctx context.Context, token string) *model.AccessToken {
	claims, err := s.parse(token, true)
	if err != nil {
		s.met.Auth("refresh", "invalid")
		return nil
	}
	id, ok := claimID(claims)
	if !ok {
		s.met.Auth("refresh", "invalid")
		return nil
	}
	uid, err := uuid.FromString(id)
	if err != nil {
		s.met.Auth("refresh", "invalid")
		return nil
	}

	u, err := s.users.GetByID(ctx, uid, true)
	if err != nil || u == nil || !u.Active {
		s.met.Auth("refresh", "inactive")
		return nil
	}
	if !s.dir.IsActiveMember(ctx, u.Email, s.userGroupID) {
		s.met.Auth("refresh", "not_member")
		return nil
	}

	access, err := s.generateAccessToken(u)
	if err != nil {
		s.log.Error("refresh sign", zap.Error(err))
		return nil
	}
	s.met.Auth("refresh", "ok")
	return access
}

// Logout blacklists both tokens for as long as each remains valid.
// Expired tokens are still accepted as long as their signature holds.
func (s *AuthServiceImpl) Logout(ctx context.Context, userID string, tokens model.AuthTokens) bool {
	accessClaims, err := s.parse(tokens.Access, false)
	if err != nil {
		s.met.Auth("logout", "invalid")
		return false
	}
	refreshClaims, err := s.parse(tokens.Refresh, false)
	if err != nil {
		s.met.Auth("logout", "invalid")
		return false
	}
	if id, _ := claimID(refreshClaims); id != userID {
		s.met.Auth("logout", "mismatch")
		return false
	}

	accessExp, err := accessClaims.GetExpirationTime()
	if err != nil || accessExp == nil {
		return false
	}
	refreshExp, err := refreshClaims.GetExpirationTime()
	if err != nil || refreshExp == nil {
		return false
	}

	now := s.now()
	if _, err := s.invalidTokens.CreateMany(ctx, []model.InvalidToken{
		{UserID: userID, Value: tokens.Access, Expiration: secondsUntil(accessExp.Time, now)},
		{UserID: userID, Value: tokens.Refresh, Expiration: secondsUntil(refreshExp.Time, now)},
	}); err != nil {
		s.log.Error("logout invalidate", zap.String("user_id", userID), zap.Error(err))
		s.met.Auth("logout", "error")
		return false
	}
	s.met.Auth("logout", "ok")
	return true
}

// VerifyValidToken fails closed, including when the invalidation store errors.
func (s *AuthServiceImpl) VerifyValidToken(ctx context.Context, token string) (jwt.MapClaims, bool) {
	claims, err := s.parse(token, true)
	if err != nil {
		return nil, false
	}
	id, ok := claimID(claims)
	if !ok {
		return nil, false
	}
	v, err := s.invalidTokens.Get(ctx, id, token)
	if err != nil {
		s.log.Warn("invalid token lookup", zap.String("user_id", id), zap.Error(err))
		return nil, false
	}
	if v != "" {
		s.met.Auth("verify", "revoked")
		return nil, false
	}
	return claims, true
}

func (s *AuthServiceImpl) GenerateInviteToken(userID string) (string, error) {
	return s.GenerateJwt(map[string]any{"id": userID, "event": EventInvited}, OneDay)
}

// GenerateJwt accepts any JSON object payload: a map or a struct.
func (s *AuthServiceImpl) GenerateJwt(payload any, ttl time.Duration) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jwt payload: %w", err)
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(b, &claims); err != nil {
		return "", fmt.Errorf("jwt payload must be an object: %w", err)
	}

	now := s.now()
	claims["iss"] = s.host
	claims["aud"] = s.host
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	return s.Sign(claims)
}

func (s *AuthServiceImpl) Sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
}

func (s *AuthServiceImpl) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.users.GetByEmail(ctx, email, false)
}

// IsExpired reports whether err came from an otherwise valid token past its exp.
func IsExpired(err error) bool { return errors.Is(err, jwt.ErrTokenExpired) }

// Parse returns the claims of token; IsExpired tells expiry apart from other failures.
func (s *AuthServiceImpl) Parse(token string) (jwt.MapClaims, error) {
	return s.parse(token, true)
}

func (s *AuthServiceImpl) parse(token string, validateClaims bool) (jwt.MapClaims, error) {
	if token == "" {
		return nil, jwt.ErrTokenMalformed
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if !validateClaims {
		opts = append(opts, jwt.WithoutClaimsValidation())
	} else if s.host != "" {
		opts = append(opts, jwt.WithIssuer(s.host), jwt.WithAudience(s.host))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *AuthServiceImpl) generateAccessToken(u *model.User) (*model.AccessToken, error) {
	access, err := s.GenerateJwt(model.NewAccessPayload(u), s.accessTTL)
	if err != nil {
		return nil, err
	}
	return &model.AccessToken{
		Access:     access,
		Expiration: s.now().Add(s.accessTTL).UnixMilli(),
	}, nil
}

func claimID(c jwt.MapClaims) (string, bool) {
	id, _ := c["id"].(string)
	return id, id != ""
}

// secondsUntil is floor((exp - now) / 1s) at millisecond precision.
func secondsUntil(exp, now time.Time) int64 {
	ms := exp.UnixMilli() - now.UnixMilli()
	sec := ms / 1000
	if ms%1000 < 0 {
		sec--
	}
	return sec
}
