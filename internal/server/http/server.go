// Package httpserver exposes the portal auth API over HTTP.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/and161185/portal-auth/internal/cache"
	"github.com/and161185/portal-auth/internal/identity"
	"github.com/and161185/portal-auth/internal/limiter"
	"github.com/and161185/portal-auth/internal/metrics"
	"github.com/and161185/portal-auth/internal/model"
	"github.com/and161185/portal-auth/internal/service"
)

// GoogleVerifier exchanges a Google authorization code for a claim.
type GoogleVerifier interface {
	Verify(ctx context.Context, code, origin string) (*model.Claim, error)
}

// SAMLProvider drives the SAML round trip.
type SAMLProvider interface {
	Validate(profile identity.Profile) *model.Claim
	AuthenticateOptions(origin string) identity.AuthenticateOptions
	FailureRedirect(relayState string) string
	LoginURL(relayState string) (string, error)
	ParseResponse(r *http.Request) (*identity.Profile, error)
}

var (
	_ GoogleVerifier = (*identity.GoogleVerifier)(nil)
	_ SAMLProvider   = (*identity.SAMLProvider)(nil)
)

// Server wires services into gin handlers.
type Server struct {
	auth   service.AuthService
	google GoogleVerifier
	saml   SAMLProvider
	cache  cache.Cache
	lim    limiter.Limiter
	met    *metrics.Metrics
	log    *zap.Logger

	corsOrigins    []string
	trustedProxies []string
}

// Option configures optional collaborators.
type Option func(*Server)

func WithGoogle(g GoogleVerifier) Option { return func(s *Server) { s.google = g } }

// WithSAML enables the /auth/saml routes.
func WithSAML(p SAMLProvider) Option { return func(s *Server) { s.saml = p } }

// WithCache enables the /cache admin routes.
func WithCache(c cache.Cache) Option { return func(s *Server) { s.cache = c } }

func WithLimiter(l limiter.Limiter) Option { return func(s *Server) { s.lim = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Server) { s.met = m } }

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.log = l } }

// WithCORSOrigins allows browser calls from origins.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithTrustedProxies lists the proxies (IPs or CIDRs) whose forwarding
// headers are honored. Without it the client address is the TCP peer.
func WithTrustedProxies(proxies ...string) Option {
	return func(s *Server) { s.trustedProxies = proxies }
}

// New constructs the HTTP server around auth.
func New(auth service.AuthService, opts ...Option) *Server {
	s := &Server{auth: auth, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the gin engine with every enabled route.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	var proxies []string
	if len(s.trustedProxies) > 0 {
		proxies = s.trustedProxies
	}
	if err := r.SetTrustedProxies(proxies); err != nil {
		s.log.Error("invalid trusted proxies, forwarding headers ignored", zap.Error(err))
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(Recover(s.log), Logging(s.log), Metrics(s.met))
	if len(s.corsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.corsOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Authorization", "Content-Type"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "up"}) })
	if s.met != nil {
		r.GET("/metrics", gin.WrapH(s.met.Handler()))
	}

	guard := JWTGuard(s.auth)
	limited := func(c *gin.Context) { c.Next() }
	if s.lim != nil {
		limited = RateLimit(s.lim)
	}

	a := r.Group("/auth")
	{
		if s.saml != nil {
			a.GET("/saml", s.samlLogin)
			a.POST("/saml/verify", limited, s.samlVerify)
		}
		if s.google != nil {
			a.POST("/google/verify", limited, s.googleVerify)
		}
		a.GET("/me", guard, s.me)
		a.POST("/refresh", limited, s.refresh)
		a.POST("/logout", guard, s.logout)
	}

	if s.cache != nil {
		cg := r.Group("/cache", guard)
		cg.GET("", s.cacheIndex)
		cg.GET("/:key", s.cacheFind)
		cg.DELETE("", s.cacheFlush)
		cg.DELETE("/:key", s.cacheDelete)
	}
	return r
}
