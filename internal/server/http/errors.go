package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/and161185/portal-auth/internal/errs"
)

// Error codes returned to the front end.
const (
	CodeAuthError        = "auth_error"
	CodeAuthErrorExpired = "auth_error_expired"
	CodeRefreshToken     = "refresh_token"
	CodeLogout           = "logout"
	CodeRateLimited      = "rate_limited"
	CodeBadRequest       = "bad_request"
	CodeConflict         = "conflict"
)

type errorBody struct {
	Message    string  `json:"message"`
	StatusCode int     `json:"statusCode"`
	Code       *string `json:"code"`
}

func abort(c *gin.Context, status int, message, code string) {
	body := errorBody{Message: message, StatusCode: status}
	if code != "" {
		body.Code = &code
	}
	c.AbortWithStatusJSON(status, body)
}

// abortErr maps service errors onto HTTP statuses.
func abortErr(c *gin.Context, err error) {
	if code := errs.CodeOf(err); code != "" {
		abort(c, http.StatusBadRequest, err.Error(), code)
		return
	}
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		abort(c, http.StatusUnauthorized, "Unauthorized", CodeAuthError)
	case errors.Is(err, errs.ErrAlreadyExists):
		abort(c, http.StatusBadRequest, "Already exists", CodeConflict)
	case errors.Is(err, errs.ErrNotFound):
		abort(c, http.StatusNotFound, "Not found", "")
	case errors.Is(err, errs.ErrRateLimited):
		abort(c, http.StatusTooManyRequests, "Too many requests", CodeRateLimited)
	default:
		_ = c.Error(err)
		abort(c, http.StatusInternalServerError, "Internal server error", "")
	}
}
