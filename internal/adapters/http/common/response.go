// Package common holds the shared HTTP response types.
//
// It lives in its own package to avoid import cycles between handlers
// and the outer http package.
package common

import (
	"errors"
	"net/http"
	"time"

	domainerrors "github.com/payflowhq/payflow/internal/domain/errors"
	"github.com/gin-gonic/gin"
)

// ============================================
// Standard API Response Format
// ============================================

// APIResponse is the envelope every endpoint responds with.
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Meta      *APIMeta    `json:"meta,omitempty"`
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIMeta carries pagination info for list endpoints.
type APIMeta struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset"`
	Count  int `json:"count"`
}

// APIError is the error payload inside the envelope.
type APIError struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Fields     []FieldError           `json:"fields,omitempty"`
	RetryAfter int                    `json:"retry_after,omitempty"`
}

// FieldError describes a single invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ============================================
// Error Codes
// ============================================

const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	ErrCodeTooManyRequests     = "TOO_MANY_REQUESTS"
	ErrCodeBusinessRule        = "BUSINESS_RULE_VIOLATION"
	ErrCodeConcurrency         = "CONCURRENCY_ERROR"
	ErrCodeProviderDeclined    = "PROVIDER_DECLINED"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeUnavailable         = "SERVICE_UNAVAILABLE"
)

// ============================================
// Request ID
// ============================================

// RequestIDKey is the gin context key the RequestID middleware stores
// the id under.
const RequestIDKey = "request_id"

// GetRequestID returns the request id stored by the RequestID middleware.
func GetRequestID(c *gin.Context) string {
	if id, exists := c.Get(RequestIDKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// SetRequestID stores the request id on the gin context and echoes it
// back in the response header.
func SetRequestID(c *gin.Context, id string) {
	c.Set(RequestIDKey, id)
	c.Header("X-Request-ID", id)
}

// ============================================
// Response Helpers
// ============================================

// Success sends a successful response.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: GetRequestID(c),
		Timestamp: time.Now().UTC(),
	})
}

// SuccessWithMeta sends a successful response with pagination meta.
func SuccessWithMeta(c *gin.Context, statusCode int, data interface{}, meta *APIMeta) {
	c.JSON(statusCode, APIResponse{
		Success:   true,
		Data:      data,
		Meta:      meta,
		RequestID: GetRequestID(c),
		Timestamp: time.Now().UTC(),
	})
}

// Error sends an error response.
func Error(c *gin.Context, statusCode int, apiError *APIError) {
	c.JSON(statusCode, APIResponse{
		Success:   false,
		Error:     apiError,
		RequestID: GetRequestID(c),
		Timestamp: time.Now().UTC(),
	})
}

// ============================================
// Error Response Helpers
// ============================================

// ValidationErrorResponse reports field-level validation failures.
func ValidationErrorResponse(c *gin.Context, fields []FieldError) {
	Error(c, http.StatusBadRequest, &APIError{
		Code:    ErrCodeValidation,
		Message: "Request validation failed",
		Fields:  fields,
	})
}

// NotFoundResponse reports a missing resource.
func NotFoundResponse(c *gin.Context, resource string) {
	Error(c, http.StatusNotFound, &APIError{
		Code:    ErrCodeNotFound,
		Message: resource + " not found",
		Details: map[string]interface{}{
			"resource": resource,
		},
	})
}

// BadRequestResponse reports a malformed request.
func BadRequestResponse(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, &APIError{
		Code:    ErrCodeBadRequest,
		Message: message,
	})
}

// UnauthorizedResponse reports a missing or invalid credential.
func UnauthorizedResponse(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, &APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}

// ForbiddenResponse reports an authenticated caller without the right role.
func ForbiddenResponse(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, &APIError{
		Code:    ErrCodeForbidden,
		Message: message,
	})
}

// ConflictResponse reports a state or uniqueness conflict.
func ConflictResponse(c *gin.Context, message string) {
	Error(c, http.StatusConflict, &APIError{
		Code:    ErrCodeConflict,
		Message: message,
	})
}

// TooManyRequestsResponse reports rate limiting.
func TooManyRequestsResponse(c *gin.Context, retryAfter int) {
	Error(c, http.StatusTooManyRequests, &APIError{
		Code:       ErrCodeTooManyRequests,
		Message:    "Too many requests, please try again later",
		RetryAfter: retryAfter,
	})
}

// InternalErrorResponse reports an unexpected server failure.
func InternalErrorResponse(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, &APIError{
		Code:    ErrCodeInternal,
		Message: message,
	})
}

// ============================================
// Domain Error to HTTP Error Mapper
// ============================================

// HandleDomainError translates a domain error into an HTTP response.
// The status code is a pure function of the error kind.
func HandleDomainError(c *gin.Context, err error) {
	// Field-level validation carries the richer fields payload.
	var valErrs domainerrors.ValidationErrors
	if errors.As(err, &valErrs) {
		fields := make([]FieldError, 0, len(valErrs))
		for _, v := range valErrs {
			fields = append(fields, FieldError{Field: v.Field, Message: v.Message, Code: "invalid"})
		}
		ValidationErrorResponse(c, fields)
		return
	}
	var valErr domainerrors.ValidationError
	if errors.As(err, &valErr) {
		ValidationErrorResponse(c, []FieldError{
			{Field: valErr.Field, Message: valErr.Message, Code: "invalid"},
		})
		return
	}

	var brv *domainerrors.BusinessRuleViolation
	if errors.As(err, &brv) {
		Error(c, http.StatusUnprocessableEntity, &APIError{
			Code:    ErrCodeBusinessRule,
			Message: brv.Message,
			Details: map[string]interface{}{
				"rule":    brv.Rule,
				"context": brv.Context,
			},
		})
		return
	}

	var ce *domainerrors.ConcurrencyError
	if errors.As(err, &ce) {
		Error(c, http.StatusConflict, &APIError{
			Code:    ErrCodeConcurrency,
			Message: "Resource was modified by another request, please retry",
			Details: map[string]interface{}{
				"retryable": true,
			},
		})
		return
	}

	// A TransactionError carries its own stable code and details.
	var te *domainerrors.TransactionError
	if errors.As(err, &te) {
		writeTransactionError(c, te)
		return
	}

	// Sentinel errors map through their kind.
	switch domainerrors.KindOf(err) {
	case domainerrors.KindNotFound:
		NotFoundResponse(c, resourceName(err))
	case domainerrors.KindValidation:
		BadRequestResponse(c, err.Error())
	case domainerrors.KindAuth:
		UnauthorizedResponse(c, err.Error())
	case domainerrors.KindConflict:
		code := ErrCodeConflict
		if errors.Is(err, domainerrors.ErrIdempotencyKeyConflict) {
			code = ErrCodeIdempotencyConflict
		}
		Error(c, http.StatusConflict, &APIError{
			Code:    code,
			Message: err.Error(),
		})
	case domainerrors.KindLock:
		Error(c, http.StatusConflict, &APIError{
			Code:       ErrCodeConcurrency,
			Message:    "Transaction is being processed by another request, please retry",
			RetryAfter: 1,
			Details: map[string]interface{}{
				"retryable": true,
			},
		})
	case domainerrors.KindRateLimit:
		TooManyRequestsResponse(c, 1)
	default:
		InternalErrorResponse(c, "An unexpected error occurred")
	}
}

// writeTransactionError maps the kind of a TransactionError to a status and
// forwards its code, message and details. Internal kinds are masked so
// infrastructure detail never reaches a client.
func writeTransactionError(c *gin.Context, te *domainerrors.TransactionError) {
	apiErr := &APIError{
		Code:    te.Code,
		Message: te.Message,
		Details: te.Details,
	}

	switch te.Kind {
	case domainerrors.KindValidation:
		Error(c, http.StatusBadRequest, apiErr)
	case domainerrors.KindAuth:
		Error(c, http.StatusUnauthorized, apiErr)
	case domainerrors.KindNotFound:
		Error(c, http.StatusNotFound, apiErr)
	case domainerrors.KindConflict:
		Error(c, http.StatusConflict, apiErr)
	case domainerrors.KindRateLimit:
		apiErr.RetryAfter = 1
		Error(c, http.StatusTooManyRequests, apiErr)
	case domainerrors.KindProviderDeclined:
		Error(c, http.StatusUnprocessableEntity, apiErr)
	case domainerrors.KindProviderCommunication:
		Error(c, http.StatusBadGateway, apiErr)
	case domainerrors.KindLock:
		apiErr.RetryAfter = 1
		Error(c, http.StatusConflict, apiErr)
	default:
		InternalErrorResponse(c, "An unexpected error occurred")
	}
}

// resourceName names the missing entity for 404 payloads.
func resourceName(err error) string {
	switch {
	case errors.Is(err, domainerrors.ErrTransactionNotFound):
		return "Transaction"
	case errors.Is(err, domainerrors.ErrEventNotFound):
		return "Event"
	case errors.Is(err, domainerrors.ErrDeadLetterNotFound):
		return "Dead letter entry"
	default:
		return "Resource"
	}
}
