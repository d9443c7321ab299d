// Package entities - DeadLetterEntry is the durable parking slot for a
// transaction whose retries and recovery are exhausted.
package entities

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/domain/errors"
)

// DeadLetterEntry references a transaction by id together with the terminal
// error that sent it here. Entries wait for administrative reprocessing.
type DeadLetterEntry struct {
	transactionID uuid.UUID
	txError       *errors.TransactionError
	enqueuedAt    time.Time
}

// NewDeadLetterEntry creates an entry for the given transaction and error.
func NewDeadLetterEntry(transactionID uuid.UUID, txError *errors.TransactionError) (*DeadLetterEntry, error) {
	if transactionID == uuid.Nil {
		return nil, errors.ValidationError{Field: "transactionId", Message: "transaction id is required"}
	}
	if txError == nil {
		txError = errors.NewTransactionError(errors.KindInternal, errors.CodeSystemError, "unknown terminal error", false, false)
	}
	return &DeadLetterEntry{
		transactionID: transactionID,
		txError:       txError,
		enqueuedAt:    time.Now().UTC(),
	}, nil
}

// ReconstructDeadLetterEntry rebuilds an entry from persistence.
func ReconstructDeadLetterEntry(transactionID uuid.UUID, errorJSON []byte, enqueuedAt time.Time) (*DeadLetterEntry, error) {
	txError := &errors.TransactionError{}
	if len(errorJSON) > 0 {
		if err := json.Unmarshal(errorJSON, txError); err != nil {
			return nil, fmt.Errorf("unmarshal dead letter error: %w", err)
		}
	}
	return &DeadLetterEntry{
		transactionID: transactionID,
		txError:       txError,
		enqueuedAt:    enqueuedAt,
	}, nil
}

func (d *DeadLetterEntry) TransactionID() uuid.UUID        { return d.transactionID }
func (d *DeadLetterEntry) Error() *errors.TransactionError { return d.txError }
func (d *DeadLetterEntry) EnqueuedAt() time.Time           { return d.enqueuedAt }

// ErrorJSON serializes the terminal error for persistence.
func (d *DeadLetterEntry) ErrorJSON() ([]byte, error) {
	return json.Marshal(d.txError)
}
