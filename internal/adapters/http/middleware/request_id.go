// Package middleware contains the HTTP middleware chain.
//
// Middleware handle the cross-cutting concerns of the API surface:
// request identity, recovery, CORS, logging, rate limiting, auth and
// metrics. Each one does a single job.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/pkg/logger"
)

const (
	// RequestIDHeader is the header carrying the request id.
	RequestIDHeader = "X-Request-ID"
	// RequestIDContextKey is the gin context key for the request id.
	RequestIDContextKey = "request_id"
)

// RequestID tags every request with a unique id.
//
// A client-supplied X-Request-ID is honored, otherwise a fresh UUID is
// generated. The id is stored on the gin context, folded into the
// request's context.Context so log records pick it up, and echoed back
// in the response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDContextKey, requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetRequestID extracts the request id from the gin context.
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(RequestIDContextKey); exists {
		if strID, ok := id.(string); ok {
			return strID
		}
	}
	return ""
}
