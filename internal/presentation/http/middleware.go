package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"go-timeline/internal/auth"
)

const requestIDHeader = "X-Request-ID"

// RequestID 透传或生成请求ID，并记录访问日志
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set("requestID", rid)
		c.Header(requestIDHeader, rid)
		start := time.Now()
		c.Next()
		slog.Info("HTTP.Request",
			"request_id", rid,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"viewer", c.GetString("userID"),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Auth 校验 Bearer 令牌，通过后将查看者ID写入 "userID"
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		cl, err := auth.ParseJWT(secret, strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set("userID", cl.UserID)
		c.Next()
	}
}
