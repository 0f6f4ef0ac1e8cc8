// Package middleware holds the gin middleware shared by every route.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mantonx/eraser/internal/logger"
)

// quietPaths are polled often and not worth a log line.
var quietPaths = map[string]bool{
	"/api/health": true,
}

// RequestLogger logs every request at debug level and failures at warn.
// Bodies are never logged; uploads are large binary payloads.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if quietPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		args := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"query", c.Request.URL.RawQuery,
			"status", c.Writer.Status(),
			"duration", duration.String(),
			"size", c.Writer.Size(),
			"ip", c.ClientIP(),
			"request_id", c.GetString(RequestIDKey),
		}
		if c.Writer.Status() >= 500 {
			logger.Warn("HTTP request failed", args...)
			return
		}
		logger.Debug("HTTP request", args...)
	}
}

// ErrorLogger logs errors with context
func ErrorLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.Error("Request error",
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"request_id", c.GetString(RequestIDKey),
				"error", err.Error(),
				"type", err.Type,
			)
		}
	}
}
