// Package errors defines the domain error types shared by the engine.
// Typed errors let callers branch on the failure class instead of matching
// message strings.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy and HTTP mapping.
// The status code at the boundary is a pure function of the kind.
type Kind string

const (
	KindValidation            Kind = "VALIDATION"
	KindAuth                  Kind = "AUTH"
	KindNotFound              Kind = "NOT_FOUND"
	KindConflict              Kind = "CONFLICT"
	KindProviderCommunication Kind = "PROVIDER_COMMUNICATION"
	KindProviderDeclined      Kind = "PROVIDER_DECLINED"
	KindRateLimit             Kind = "RATE_LIMIT"
	KindDatabase              Kind = "DATABASE"
	KindLock                  Kind = "LOCK"
	KindConfiguration         Kind = "CONFIGURATION"
	KindInternal              Kind = "INTERNAL"
)

// Stable error codes surfaced to clients and persisted on transactions.
const (
	CodeValidation          = "validation_error"
	CodeNotFound            = "not_found"
	CodeIdempotencyConflict = "idempotency_conflict"
	CodeStateConflict       = "state_conflict"
	CodeInvalidState        = "invalid_transaction_state"
	CodeLimitExceeded       = "LIMIT_EXCEEDED"
	CodeRetryLimitExceeded  = "RETRY_LIMIT_EXCEEDED"
	CodeManualRetry         = "MANUAL_RETRY"
	CodeSystemError         = "SYSTEM_ERROR"
	CodeLockNotAcquired     = "LOCK_NOT_ACQUIRED"
)

// Common sentinel errors.
var (
	ErrEntityNotFound         = errors.New("entity not found")
	ErrTransactionNotFound    = fmt.Errorf("transaction: %w", ErrEntityNotFound)
	ErrEventNotFound          = fmt.Errorf("event: %w", ErrEntityNotFound)
	ErrDeadLetterNotFound     = fmt.Errorf("dead letter entry: %w", ErrEntityNotFound)
	ErrDuplicateTransaction   = errors.New("duplicate transaction detected")
	ErrIdempotencyKeyConflict = errors.New("idempotency key already used with a different request body")
	ErrInvalidTransition      = errors.New("state transition not allowed")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrRetryNotAllowed        = errors.New("transaction is not in a retryable state")
	ErrRetryLimitExceeded     = errors.New("retry limit exceeded")
	ErrLockNotAcquired        = errors.New("could not acquire record lock")
	ErrLimitExceeded          = errors.New("transaction limit exceeded")
	ErrDailyLimitExceeded     = errors.New("daily transaction limit exceeded")
)

// TransactionError is the failure record attached to a transaction after an
// attempt fails. It travels through results and is persisted as JSON on the
// transaction row; Kind drives in-flight routing and is not persisted.
type TransactionError struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Recoverable bool                   `json:"recoverable"`
	Retryable   bool                   `json:"retryable"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Kind        Kind                   `json:"-"`
	cause       error
}

// Error implements the error interface.
func (e *TransactionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *TransactionError) Unwrap() error {
	return e.cause
}

// WithCause attaches the underlying error and returns the receiver.
func (e *TransactionError) WithCause(err error) *TransactionError {
	e.cause = err
	return e
}

// WithDetails attaches structured context and returns the receiver.
func (e *TransactionError) WithDetails(details map[string]interface{}) *TransactionError {
	e.Details = details
	return e
}

// NewTransactionError creates a failure record with explicit routing flags.
func NewTransactionError(kind Kind, code, message string, recoverable, retryable bool) *TransactionError {
	return &TransactionError{
		Kind:        kind,
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
		Retryable:   retryable,
	}
}

// NewProviderCommunicationError marks a transport-level provider failure.
// These are always retryable: the outcome of the attempt is unknown.
func NewProviderCommunicationError(code, message string) *TransactionError {
	return NewTransactionError(KindProviderCommunication, code, message, true, true)
}

// NewProviderDeclinedError marks an explicit decline from the provider.
// Declines never retry as-is; recovery strategies may still repair them.
func NewProviderDeclinedError(code, message string, recoverable bool) *TransactionError {
	return NewTransactionError(KindProviderDeclined, code, message, recoverable, false)
}

// NewLockError marks a failed lock acquisition. Retryable: the holder will
// release or expire.
func NewLockError(message string) *TransactionError {
	return NewTransactionError(KindLock, CodeLockNotAcquired, message, false, true)
}

// NewSystemError marks an infrastructure failure (DB, pool). Never persisted
// on the transaction; the caller observes it as Internal.
func NewSystemError(message string, cause error) *TransactionError {
	e := NewTransactionError(KindInternal, CodeSystemError, message, false, false)
	e.cause = cause
	return e
}

// KindOf extracts the Kind from any error in the chain, defaulting to
// KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var te *TransactionError
	if errors.As(err, &te) && te.Kind != "" {
		return te.Kind
	}
	switch {
	case IsNotFound(err):
		return KindNotFound
	case IsValidationError(err):
		return KindValidation
	case errors.Is(err, ErrIdempotencyKeyConflict),
		errors.Is(err, ErrDuplicateTransaction),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrRetryNotAllowed),
		IsConcurrencyError(err):
		return KindConflict
	case errors.Is(err, ErrLockNotAcquired):
		return KindLock
	case IsBusinessRuleViolation(err):
		return KindValidation
	default:
		return KindInternal
	}
}

// DomainError wraps an error with a machine-readable code and context.
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error.
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %d error(s)", len(e))
}

// Add appends a validation error.
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// BusinessRuleViolation is a violation of business logic rather than of data
// shape — exceeding a spending limit, retrying a completed transaction.
type BusinessRuleViolation struct {
	Rule    string
	Message string
	Context map[string]interface{}
}

// Error implements the error interface.
func (e BusinessRuleViolation) Error() string {
	return fmt.Sprintf("business rule violation [%s]: %s", e.Rule, e.Message)
}

// NewBusinessRuleViolation creates a new business rule violation error.
func NewBusinessRuleViolation(rule, message string, context map[string]interface{}) *BusinessRuleViolation {
	return &BusinessRuleViolation{Rule: rule, Message: message, Context: context}
}

// ConcurrencyError reports that a concurrent writer won the race; the caller
// should re-read and observe the committed state.
type ConcurrencyError struct {
	EntityType string
	EntityID   string
	Message    string
}

// Error implements the error interface.
func (e ConcurrencyError) Error() string {
	return fmt.Sprintf("concurrency error on %s [%s]: %s", e.EntityType, e.EntityID, e.Message)
}

// NewConcurrencyError creates a new concurrency error.
func NewConcurrencyError(entityType, entityID, message string) *ConcurrencyError {
	return &ConcurrencyError{EntityType: entityType, EntityID: entityID, Message: message}
}

// IsNotFound checks if an error is an "entity not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}

// IsDuplicate checks if an error came from the unique index guarding
// idempotency keys.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateTransaction)
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var valErr ValidationError
	var valErrs ValidationErrors
	return errors.As(err, &valErr) || errors.As(err, &valErrs)
}

// IsBusinessRuleViolation checks if an error is a business rule violation.
func IsBusinessRuleViolation(err error) bool {
	var brv *BusinessRuleViolation
	return errors.As(err, &brv)
}

// IsConcurrencyError checks if an error is a concurrency error.
func IsConcurrencyError(err error) bool {
	var ce *ConcurrencyError
	return errors.As(err, &ce)
}

// IsRetryable reports whether the error chain carries a retryable failure.
func IsRetryable(err error) bool {
	var te *TransactionError
	return errors.As(err, &te) && te.Retryable
}

// IsRecoverable reports whether the error chain carries a recoverable failure.
func IsRecoverable(err error) bool {
	var te *TransactionError
	return errors.As(err, &te) && te.Recoverable
}

// AsTransactionError extracts a TransactionError from the chain, or wraps an
// arbitrary error into a non-retryable internal one so the failure record on
// the transaction is always populated.
func AsTransactionError(err error) *TransactionError {
	var te *TransactionError
	if errors.As(err, &te) {
		return te
	}
	return NewTransactionError(KindInternal, CodeSystemError, err.Error(), false, false).WithCause(err)
}
