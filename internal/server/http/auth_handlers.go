package httpserver

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/and161185/portal-auth/internal/errs"
	"github.com/and161185/portal-auth/internal/model"
)

type verifyRequest struct {
	Code string `json:"code" binding:"required"`
}

type refreshRequest struct {
	Token string `json:"token" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// samlLogin redirects the browser to the IdP.
func (s *Server) samlLogin(c *gin.Context) {
	opts := s.saml.AuthenticateOptions(c.Query("origin"))
	u, err := s.saml.LoginURL(opts.RelayState)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.Redirect(http.StatusFound, u)
}

// samlVerify is the assertion consumer service.
func (s *Server) samlVerify(c *gin.Context) {
	profile, err := s.saml.ParseResponse(c.Request)
	relay := c.PostForm("RelayState")
	if err != nil {
		s.log.Warn("saml response rejected", zap.Error(err))
		if to := s.saml.FailureRedirect(relay); to != "" {
			c.Redirect(http.StatusFound, to)
			return
		}
		abort(c, http.StatusUnauthorized, "Unauthorized", CodeAuthError)
		return
	}
	claim := s.saml.Validate(*profile)

	if relay == "" {
		c.JSON(http.StatusOK, claim)
		return
	}

	tokens, err := s.auth.Login(c.Request.Context(), claim)
	if err != nil {
		q := url.Values{}
		q.Set("errorCode", errs.CodeOf(err))
		q.Set("errorMessage", err.Error())
		c.Redirect(http.StatusFound, relay+"?"+q.Encode())
		return
	}
	// Only the refresh token travels in the URL; the front end refreshes right away.
	encoded, err := s.auth.Sign(jwt.MapClaims{"refresh": tokens.Refresh})
	if err != nil {
		abortErr(c, err)
		return
	}
	c.Redirect(http.StatusFound, relay+"?tokens="+url.QueryEscape(encoded))
}

func (s *Server) googleVerify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "code is required", CodeBadRequest)
		return
	}
	claim, err := s.google.Verify(c.Request.Context(), req.Code, c.GetHeader("Origin"))
	if err != nil {
		s.log.Warn("google verify", zap.Error(err))
		abort(c, http.StatusUnauthorized, "Unauthorized", CodeAuthError)
		return
	}
	tokens, err := s.auth.Login(c.Request.Context(), claim)
	if err != nil {
		abortErr(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func (s *Server) me(c *gin.Context) {
	u, _ := UserFromCtx(c.Request.Context())
	c.JSON(http.StatusOK, u)
}

func (s *Server) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "token is required", CodeBadRequest)
		return
	}
	tok := s.auth.Refresh(c.Request.Context(), req.Token)
	if tok == nil {
		abort(c, http.StatusForbidden, "Invalid refresh token", CodeRefreshToken)
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (s *Server) logout(c *gin.Context) {
	var req logoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid body", CodeBadRequest)
		return
	}
	u, _ := UserFromCtx(c.Request.Context())
	access, _ := AuthTokenFromCtx(c.Request.Context())

	ok := s.auth.Logout(c.Request.Context(), u.ID, model.AuthTokens{Access: access, Refresh: req.RefreshToken})
	if !ok {
		abort(c, http.StatusForbidden, "Invalid credentials", CodeLogout)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
