// Package middleware - structured request logging.
package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggingConfig configures the logging middleware.
type LoggingConfig struct {
	Logger          *slog.Logger
	SkipPaths       []string // paths that never log (probes, /metrics)
	LogRequestBody  bool     // careful with PII
	LogResponseBody bool
	MaxBodySize     int // max body bytes to include in a record
}

// DefaultLoggingConfig returns the defaults.
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Logger:          slog.Default(),
		SkipPaths:       []string{"/health", "/health/live", "/health/ready", "/metrics"},
		LogRequestBody:  false,
		LogResponseBody: false,
		MaxBodySize:     1024,
	}
}

// Logging writes one structured record per request.
//
// Logged fields: method, path, status, duration, request id, client IP,
// user agent and response size. Level follows the status code: 5xx logs
// as error, 4xx as warning.
func Logging(config *LoggingConfig) gin.HandlerFunc {
	if config == nil {
		config = DefaultLoggingConfig()
	}

	skipMap := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipMap[path] = true
	}

	return func(c *gin.Context) {
		if skipMap[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()

		var requestBody string
		if config.LogRequestBody {
			bodyBytes, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			if len(bodyBytes) > 0 {
				requestBody = truncateString(string(bodyBytes), config.MaxBodySize)
			}
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		if config.LogResponseBody {
			c.Writer = blw
		}

		c.Next()

		duration := time.Since(start)

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.String("query", c.Request.URL.RawQuery),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", duration),
			slog.String("request_id", GetRequestID(c)),
			slog.String("client_ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Int("response_size", c.Writer.Size()),
		}

		if config.LogRequestBody && requestBody != "" {
			attrs = append(attrs, slog.String("request_body", requestBody))
		}

		if config.LogResponseBody && blw.body.Len() > 0 {
			attrs = append(attrs, slog.String("response_body",
				truncateString(blw.body.String(), config.MaxBodySize)))
		}

		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		} else if c.Writer.Status() >= 400 {
			level = slog.LevelWarn
		}

		config.Logger.LogAttrs(c.Request.Context(), level, "HTTP Request", attrs...)
	}
}

// bodyLogWriter captures the response body while writing it through.
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write writes to the original writer and the capture buffer.
func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// truncateString caps a string at max bytes.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}
