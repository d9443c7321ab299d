// Package http contains the HTTP adapter (REST API).
//
// Layout:
// - common/: shared response types and helpers (separate package to avoid
//   import cycles)
// - middleware/: HTTP middleware (auth, logging, recovery, rate limiting)
// - handlers/: per-resource HTTP handlers
// - router.go: route configuration
// - server.go: HTTP server lifecycle
//
// The adapter translates HTTP requests into use case calls and use case
// results into responses. No business logic lives here.
package http

import (
	"github.com/payflowhq/payflow/internal/adapters/http/common"
)

// Re-export types from the common package for convenience
type (
	// APIResponse is the envelope every endpoint responds with.
	APIResponse = common.APIResponse
	// APIMeta carries pagination info.
	APIMeta = common.APIMeta
	// APIError is the error payload inside the envelope.
	APIError = common.APIError
	// FieldError describes a single invalid request field.
	FieldError = common.FieldError
)

// Re-export error codes
const (
	ErrCodeValidation          = common.ErrCodeValidation
	ErrCodeNotFound            = common.ErrCodeNotFound
	ErrCodeBadRequest          = common.ErrCodeBadRequest
	ErrCodeUnauthorized        = common.ErrCodeUnauthorized
	ErrCodeForbidden           = common.ErrCodeForbidden
	ErrCodeConflict            = common.ErrCodeConflict
	ErrCodeIdempotencyConflict = common.ErrCodeIdempotencyConflict
	ErrCodeTooManyRequests     = common.ErrCodeTooManyRequests
	ErrCodeBusinessRule        = common.ErrCodeBusinessRule
	ErrCodeConcurrency         = common.ErrCodeConcurrency
	ErrCodeProviderDeclined    = common.ErrCodeProviderDeclined
	ErrCodeProviderUnavailable = common.ErrCodeProviderUnavailable
	ErrCodeInternal            = common.ErrCodeInternal
	ErrCodeUnavailable         = common.ErrCodeUnavailable
)

// Re-export functions
var (
	// GetRequestID returns the request id from the gin context.
	GetRequestID = common.GetRequestID
	// SetRequestID stores the request id on the gin context.
	SetRequestID = common.SetRequestID
	// Success sends a successful response.
	Success = common.Success
	// SuccessWithMeta sends a successful response with pagination meta.
	SuccessWithMeta = common.SuccessWithMeta
	// Error sends an error response.
	Error = common.Error
	// ValidationErrorResponse reports field-level validation failures.
	ValidationErrorResponse = common.ValidationErrorResponse
	// NotFoundResponse reports a missing resource.
	NotFoundResponse = common.NotFoundResponse
	// BadRequestResponse reports a malformed request.
	BadRequestResponse = common.BadRequestResponse
	// UnauthorizedResponse reports a missing or invalid credential.
	UnauthorizedResponse = common.UnauthorizedResponse
	// ForbiddenResponse reports an authenticated caller without the right role.
	ForbiddenResponse = common.ForbiddenResponse
	// ConflictResponse reports a state or uniqueness conflict.
	ConflictResponse = common.ConflictResponse
	// TooManyRequestsResponse reports rate limiting.
	TooManyRequestsResponse = common.TooManyRequestsResponse
	// InternalErrorResponse reports an unexpected server failure.
	InternalErrorResponse = common.InternalErrorResponse
	// HandleDomainError translates a domain error into an HTTP response.
	HandleDomainError = common.HandleDomainError
)
