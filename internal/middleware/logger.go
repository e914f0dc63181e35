package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/pos-sync/pkg/logger"
)

const maxLoggedBody = 2 << 10

// LoggerConfig controls request logging.
type LoggerConfig struct {
	// SkipBodyPrefixes lists path prefixes whose request bodies are never
	// logged. Webhook payloads carry customer data.
	SkipBodyPrefixes []string
}

// Logger returns a middleware that logs HTTP requests
func Logger(log *logger.Logger, config LoggerConfig) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery
		method := c.Request.Method

		var requestBody []byte
		if method != "GET" && c.Request.Body != nil && logBody(path, config.SkipBodyPrefixes) {
			requestBody, _ = io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody))
			c.Request.Body = io.NopCloser(io.MultiReader(bytes.NewReader(requestBody), c.Request.Body))
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		if raw != "" {
			path = path + "?" + raw
		}

		fields := []interface{}{
			"request_id", c.GetString(ContextRequestID),
			"client_ip", c.ClientIP(),
			"method", method,
			"path", path,
			"status", statusCode,
			"latency", latency.String(),
			"user_agent", c.Request.UserAgent(),
		}
		if len(requestBody) > 0 {
			fields = append(fields, "request", string(requestBody))
		}

		switch {
		case statusCode >= 500:
			log.Error(c.Errors.Last(), "Server error", fields...)
		case statusCode >= 400:
			log.Warn("Client error", fields...)
		default:
			log.Info("Request processed", fields...)
		}
	}
}

func logBody(path string, skip []string) bool {
	for _, prefix := range skip {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
