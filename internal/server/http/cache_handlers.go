package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) cacheIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Listing the cache is not supported.", "code": http.StatusOK})
}

func (s *Server) cacheFind(c *gin.Context) {
	key := c.Param("key")
	v, err := s.cache.Get(c.Request.Context(), key)
	if err != nil {
		abortErr(c, err)
		return
	}

	var value any
	switch {
	case v == nil:
	case json.Valid(v):
		value = json.RawMessage(v)
	default:
		value = string(v)
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": value, "code": http.StatusOK})
}

func (s *Server) cacheFlush(c *gin.Context) {
	ctx := c.Request.Context()
	pattern := c.Query("pattern")

	var err error
	message := "Cache has been deleted."
	if pattern != "" {
		message = fmt.Sprintf("Cache with pattern %q has been deleted.", pattern)
		_, err = s.cache.ForgetByPattern(ctx, pattern)
	} else {
		_, err = s.cache.Flush(ctx)
	}
	if err != nil {
		abortErr(c, err)
		return
	}
	s.log.Info("cache flushed", zap.String("pattern", pattern))
	c.JSON(http.StatusOK, gin.H{"message": message, "code": http.StatusOK})
}

func (s *Server) cacheDelete(c *gin.Context) {
	key := c.Param("key")
	ok, err := s.cache.Forget(c.Request.Context(), key)
	if err != nil {
		abortErr(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("Cache with key %q does not exist.", key),
			"code":    http.StatusNotModified,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Cache with key %q has been deleted.", key),
		"code":    http.StatusOK,
	})
}
