package httpserver

import (
	"encoding/json"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/portal-auth/internal/limiter"
	"github.com/and161185/portal-auth/internal/metrics"
	"github.com/and161185/portal-auth/internal/model"
	"github.com/and161185/portal-auth/internal/service"
)

// Logging logs one line per request. Payloads are never logged.
func Logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
			log.Error("http", fields...)
			return
		}
		log.Info("http", fields...)
	}
}

// Recover turns panics into a 500 response.
func Recover(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", c.Request.URL.Path),
				)
				abort(c, http.StatusInternalServerError, "Internal server error", "")
			}
		}()
		c.Next()
	}
}

// Metrics records request counts and latencies by route template.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.HTTPRequests.WithLabelValues(c.Request.Method, path, status).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// RateLimit rejects callers that exhausted their per-address budget.
func RateLimit(lim limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retry := lim.Allow(c.Request.Context(), c.ClientIP())
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			abort(c, http.StatusTooManyRequests, "Too many requests", CodeRateLimited)
			return
		}
		c.Next()
	}
}

func bearerToken(h string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// JWTGuard admits requests carrying a valid, not logged out access token.
// Refresh and invite tokens share the signing key and are turned away.
// Expired tokens are told apart so the client knows to refresh.
func JWTGuard(auth service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			abort(c, http.StatusUnauthorized, "Unauthorized", CodeAuthError)
			return
		}
		if _, err := auth.Parse(token); err != nil {
			if service.IsExpired(err) {
				abort(c, http.StatusUnauthorized, "Unauthorized", CodeAuthErrorExpired)
				return
			}
			abort(c, http.StatusUnauthorized, "Unauthorized", CodeAuthError)
			return
		}

		claims, ok := auth.VerifyValidToken(c.Request.Context(), token)
		if !ok {
			abort(c, http.StatusUnauthorized, "Invalid token", CodeAuthError)
			return
		}
		u, err := payloadFromClaims(claims)
		if err != nil || !isAccessClaims(claims, u) {
			abort(c, http.StatusUnauthorized, "Invalid token", CodeAuthError)
			return
		}
		c.Request = c.Request.WithContext(WithUser(c.Request.Context(), u, token))
		c.Next()
	}
}

// isAccessClaims reports whether claims came from an access token: those
// carry the user's email and never an event.
func isAccessClaims(claims jwt.MapClaims, p *model.AccessPayload) bool {
	if _, ok := claims["event"]; ok {
		return false
	}
	return p.Email != ""
}

func payloadFromClaims(claims jwt.MapClaims) (*model.AccessPayload, error) {
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, err
	}
	var p model.AccessPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	if p.Permissions == nil {
		p.Permissions = []string{}
	}
	return &p, nil
}
