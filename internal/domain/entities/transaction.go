// Package entities - Transaction represents a payment operation moving
// through the processing state machine.
package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/domain/errors"
	"github.com/payflowhq/payflow/internal/domain/valueobjects"
)

// TransactionType represents the type of transaction.
type TransactionType string

const (
	TransactionTypePayment    TransactionType = "PAYMENT"    // Charge against a payment method
	TransactionTypeRefund     TransactionType = "REFUND"     // Return of a prior payment
	TransactionTypeChargeback TransactionType = "CHARGEBACK" // Forced reversal initiated by the issuer
)

// IsValid checks if the transaction type is valid.
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypePayment, TransactionTypeRefund, TransactionTypeChargeback:
		return true
	default:
		return false
	}
}

// TransactionStatus represents the current state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending            TransactionStatus = "PENDING"              // Created, not yet processed
	TransactionStatusProcessing         TransactionStatus = "PROCESSING"           // Provider call in flight
	TransactionStatusCompleted          TransactionStatus = "COMPLETED"            // Settled successfully
	TransactionStatusFailed             TransactionStatus = "FAILED"               // Last attempt failed
	TransactionStatusRolledBack         TransactionStatus = "ROLLED_BACK"          // Compensated after partial failure
	TransactionStatusRecoveryPending    TransactionStatus = "RECOVERY_PENDING"     // Retry or recovery scheduled
	TransactionStatusRecoveryInProgress TransactionStatus = "RECOVERY_IN_PROGRESS" // Retry or recovery executing
)

// IsValid checks if the transaction status is valid.
func (s TransactionStatus) IsValid() bool {
	switch s {
	case TransactionStatusPending, TransactionStatusProcessing, TransactionStatusCompleted,
		TransactionStatusFailed, TransactionStatusRolledBack,
		TransactionStatusRecoveryPending, TransactionStatusRecoveryInProgress:
		return true
	default:
		return false
	}
}

// IsFinal returns true for terminal states. FAILED is deliberately not final:
// retry scheduling and dead-letter reprocessing both resume from it.
func (s TransactionStatus) IsFinal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusRolledBack
}

// allowedTransitions is the state graph. Anything absent here is rejected.
//
// RECOVERY_PENDING → FAILED covers retry cancellation and attempt exhaustion,
// both of which park the transaction back in FAILED.
var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:            {TransactionStatusProcessing, TransactionStatusFailed},
	TransactionStatusProcessing:         {TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusRolledBack},
	TransactionStatusFailed:             {TransactionStatusRecoveryPending},
	TransactionStatusRecoveryPending:    {TransactionStatusRecoveryInProgress, TransactionStatusFailed},
	TransactionStatusRecoveryInProgress: {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusCompleted:          {},
	TransactionStatusRolledBack:         {},
}

// CanTransitionTo reports whether the graph permits moving to next.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transaction is the atomic unit of payment processing. It owns the state
// machine; every mutation goes through a method that enforces the graph and
// maintains the timestamps.
type Transaction struct {
	id              uuid.UUID
	idempotencyKey  string // Client-provided, unique, makes Begin replay-safe
	transactionType TransactionType
	status          TransactionStatus
	amount          valueobjects.Money

	customerID      string
	paymentMethodID string

	retryCount int
	txError    *errors.TransactionError // Last failure, nil while healthy

	metadata map[string]interface{}

	createdAt   time.Time
	updatedAt   time.Time
	completedAt *time.Time // Set exactly when status becomes COMPLETED
	failedAt    *time.Time // Set when status becomes FAILED or ROLLED_BACK
}

// MinIdempotencyKeyLength is the shortest accepted idempotency key.
const MinIdempotencyKeyLength = 8

// NewTransaction creates a transaction in PENDING state.
//
// Validation performed here:
//   - idempotency key present and at least 8 characters
//   - transaction type from the known set
//   - amount strictly positive
//   - customer and payment method references present
func NewTransaction(
	transactionType TransactionType,
	amount valueobjects.Money,
	customerID string,
	paymentMethodID string,
	idempotencyKey string,
	metadata map[string]interface{},
) (*Transaction, error) {
	if len(idempotencyKey) < MinIdempotencyKeyLength {
		return nil, errors.ValidationError{
			Field:   "idempotencyKey",
			Message: fmt.Sprintf("idempotency key must be at least %d characters", MinIdempotencyKeyLength),
		}
	}
	if !transactionType.IsValid() {
		return nil, errors.ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("unknown transaction type %q", transactionType),
		}
	}
	if !amount.IsPositive() {
		return nil, errors.ValidationError{
			Field:   "amount",
			Message: "amount must be positive",
		}
	}
	if customerID == "" {
		return nil, errors.ValidationError{
			Field:   "customerId",
			Message: "customer id is required",
		}
	}
	if paymentMethodID == "" {
		return nil, errors.ValidationError{
			Field:   "paymentMethodId",
			Message: "payment method id is required",
		}
	}
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	now := time.Now().UTC()
	return &Transaction{
		id:              uuid.New(),
		idempotencyKey:  idempotencyKey,
		transactionType: transactionType,
		status:          TransactionStatusPending,
		amount:          amount,
		customerID:      customerID,
		paymentMethodID: paymentMethodID,
		retryCount:      0,
		metadata:        metadata,
		createdAt:       now,
		updatedAt:       now,
	}, nil
}

// ReconstructTransaction rebuilds a transaction from persistence without
// running creation validation. metadataJSON and errorJSON may be nil.
func ReconstructTransaction(
	id uuid.UUID,
	idempotencyKey string,
	transactionType TransactionType,
	status TransactionStatus,
	amount valueobjects.Money,
	customerID string,
	paymentMethodID string,
	retryCount int,
	metadataJSON []byte,
	errorJSON []byte,
	createdAt time.Time,
	updatedAt time.Time,
	completedAt *time.Time,
	failedAt *time.Time,
) (*Transaction, error) {
	metadata := make(map[string]interface{})
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal transaction metadata: %w", err)
		}
	}

	var txError *errors.TransactionError
	if len(errorJSON) > 0 {
		txError = &errors.TransactionError{}
		if err := json.Unmarshal(errorJSON, txError); err != nil {
			return nil, fmt.Errorf("unmarshal transaction error: %w", err)
		}
	}

	return &Transaction{
		id:              id,
		idempotencyKey:  idempotencyKey,
		transactionType: transactionType,
		status:          status,
		amount:          amount,
		customerID:      customerID,
		paymentMethodID: paymentMethodID,
		retryCount:      retryCount,
		txError:         txError,
		metadata:        metadata,
		createdAt:       createdAt,
		updatedAt:       updatedAt,
		completedAt:     completedAt,
		failedAt:        failedAt,
	}, nil
}

// transitionTo is the single place state changes happen. It enforces the
// graph and maintains updatedAt plus the terminal timestamps.
func (t *Transaction) transitionTo(next TransactionStatus) error {
	if t.status == next {
		// Idempotent re-application (e.g. re-scheduling an already pending retry).
		t.updatedAt = time.Now().UTC()
		return nil
	}
	if !t.status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, t.status, next)
	}

	now := time.Now().UTC()
	t.status = next
	t.updatedAt = now

	switch next {
	case TransactionStatusCompleted:
		t.completedAt = &now
	case TransactionStatusFailed, TransactionStatusRolledBack:
		t.failedAt = &now
	}
	return nil
}

// StartProcessing moves PENDING → PROCESSING.
func (t *Transaction) StartProcessing() error {
	if t.status != TransactionStatusPending {
		return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, t.status, TransactionStatusProcessing)
	}
	return t.transitionTo(TransactionStatusProcessing)
}

// MarkCompleted terminalizes the transaction successfully and clears the
// failure record from prior attempts.
func (t *Transaction) MarkCompleted() error {
	if err := t.transitionTo(TransactionStatusCompleted); err != nil {
		return err
	}
	t.txError = nil
	return nil
}

// MarkFailed records the failure and moves to FAILED.
func (t *Transaction) MarkFailed(txErr *errors.TransactionError) error {
	if err := t.transitionTo(TransactionStatusFailed); err != nil {
		return err
	}
	t.txError = txErr
	return nil
}

// MarkRolledBack compensates a partially processed transaction.
func (t *Transaction) MarkRolledBack(txErr *errors.TransactionError) error {
	if t.status != TransactionStatusProcessing {
		return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, t.status, TransactionStatusRolledBack)
	}
	if err := t.transitionTo(TransactionStatusRolledBack); err != nil {
		return err
	}
	t.txError = txErr
	return nil
}

// MarkRecoveryPending parks the transaction waiting for a scheduled retry or
// recovery attempt. Re-applying while already pending is a no-op.
func (t *Transaction) MarkRecoveryPending() error {
	return t.transitionTo(TransactionStatusRecoveryPending)
}

// StartRecoveryAttempt moves RECOVERY_PENDING → RECOVERY_IN_PROGRESS.
func (t *Transaction) StartRecoveryAttempt() error {
	if t.status != TransactionStatusRecoveryPending {
		return fmt.Errorf("%w: %s -> %s", errors.ErrInvalidTransition, t.status, TransactionStatusRecoveryInProgress)
	}
	return t.transitionTo(TransactionStatusRecoveryInProgress)
}

// ApplyStatus applies an externally requested transition (PATCH surface).
// The graph is the only arbiter; timestamps follow the transition.
func (t *Transaction) ApplyStatus(next TransactionStatus) error {
	if !next.IsValid() {
		return errors.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", next)}
	}
	if t.status == next {
		return fmt.Errorf("%w: already %s", errors.ErrInvalidTransition, next)
	}
	return t.transitionTo(next)
}

// IncrementRetryCount bumps the attempt counter.
func (t *Transaction) IncrementRetryCount() {
	t.retryCount++
	t.updatedAt = time.Now().UTC()
}

// ResetRetryCount zeroes the attempt counter for dead-letter reprocessing.
func (t *Transaction) ResetRetryCount() {
	t.retryCount = 0
	t.updatedAt = time.Now().UTC()
}

// SetMetadata stores a single metadata entry.
func (t *Transaction) SetMetadata(key string, value interface{}) {
	if t.metadata == nil {
		t.metadata = make(map[string]interface{})
	}
	t.metadata[key] = value
	t.updatedAt = time.Now().UTC()
}

// MergeMetadata merges entries into the metadata map, overwriting on key
// collision.
func (t *Transaction) MergeMetadata(values map[string]interface{}) {
	if len(values) == 0 {
		return
	}
	if t.metadata == nil {
		t.metadata = make(map[string]interface{})
	}
	for k, v := range values {
		t.metadata[k] = v
	}
	t.updatedAt = time.Now().UTC()
}

// DeleteMetadata removes a metadata entry if present.
func (t *Transaction) DeleteMetadata(key string) {
	if t.metadata == nil {
		return
	}
	delete(t.metadata, key)
	t.updatedAt = time.Now().UTC()
}

// CanRetry reports whether another attempt is allowed under maxAttempts.
func (t *Transaction) CanRetry(maxAttempts int) bool {
	return t.status == TransactionStatusFailed && t.retryCount < maxAttempts
}

// MatchesRequest reports whether the stored transaction was created from an
// identical Begin request. Used to distinguish an idempotent replay from a
// key collision with a different body.
func (t *Transaction) MatchesRequest(
	transactionType TransactionType,
	amount valueobjects.Money,
	customerID string,
	paymentMethodID string,
) bool {
	return t.transactionType == transactionType &&
		t.amount.Equals(amount) &&
		t.customerID == customerID &&
		t.paymentMethodID == paymentMethodID
}

// Getters

func (t *Transaction) ID() uuid.UUID                   { return t.id }
func (t *Transaction) IdempotencyKey() string          { return t.idempotencyKey }
func (t *Transaction) Type() TransactionType           { return t.transactionType }
func (t *Transaction) Status() TransactionStatus       { return t.status }
func (t *Transaction) Amount() valueobjects.Money      { return t.amount }
func (t *Transaction) CustomerID() string              { return t.customerID }
func (t *Transaction) PaymentMethodID() string         { return t.paymentMethodID }
func (t *Transaction) RetryCount() int                 { return t.retryCount }
func (t *Transaction) Error() *errors.TransactionError { return t.txError }
func (t *Transaction) CreatedAt() time.Time            { return t.createdAt }
func (t *Transaction) UpdatedAt() time.Time            { return t.updatedAt }
func (t *Transaction) CompletedAt() *time.Time         { return t.completedAt }
func (t *Transaction) FailedAt() *time.Time            { return t.failedAt }

// Metadata returns a copy of the metadata map.
func (t *Transaction) Metadata() map[string]interface{} {
	copied := make(map[string]interface{}, len(t.metadata))
	for k, v := range t.metadata {
		copied[k] = v
	}
	return copied
}

// MetadataValue returns a single metadata entry.
func (t *Transaction) MetadataValue(key string) (interface{}, bool) {
	v, ok := t.metadata[key]
	return v, ok
}

// MetadataJSON serializes metadata for persistence.
func (t *Transaction) MetadataJSON() ([]byte, error) {
	if t.metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(t.metadata)
}

// ErrorJSON serializes the failure record for persistence, nil when healthy.
func (t *Transaction) ErrorJSON() ([]byte, error) {
	if t.txError == nil {
		return nil, nil
	}
	return json.Marshal(t.txError)
}
