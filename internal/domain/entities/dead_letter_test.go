package entities

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	domainErrors "github.com/payflowhq/payflow/internal/domain/errors"
)

func TestNewDeadLetterEntry(t *testing.T) {
	txID := uuid.New()
	txErr := domainErrors.NewTransactionError(
		domainErrors.KindProviderDeclined, "DO_NOT_HONOR", "issuer declined", false, false,
	)

	entry, err := NewDeadLetterEntry(txID, txErr)
	if err != nil {
		t.Fatalf("NewDeadLetterEntry() error = %v", err)
	}
	if entry.TransactionID() != txID {
		t.Errorf("TransactionID = %v, want %v", entry.TransactionID(), txID)
	}
	if entry.Error().Code != "DO_NOT_HONOR" {
		t.Errorf("Error.Code = %q, want DO_NOT_HONOR", entry.Error().Code)
	}
	if entry.EnqueuedAt().IsZero() {
		t.Error("EnqueuedAt must be set")
	}

	t.Run("nil transaction id rejected", func(t *testing.T) {
		if _, err := NewDeadLetterEntry(uuid.Nil, txErr); err == nil {
			t.Error("NewDeadLetterEntry(uuid.Nil) should fail")
		}
	})

	t.Run("nil error gets placeholder", func(t *testing.T) {
		entry, err := NewDeadLetterEntry(txID, nil)
		if err != nil {
			t.Fatalf("NewDeadLetterEntry() error = %v", err)
		}
		if entry.Error() == nil || entry.Error().Code != domainErrors.CodeSystemError {
			t.Errorf("Error = %+v, want SYSTEM_ERROR placeholder", entry.Error())
		}
	})
}

func TestReconstructDeadLetterEntry(t *testing.T) {
	txID := uuid.New()
	enqueued := time.Now().UTC().Add(-time.Minute)
	errorJSON, _ := json.Marshal(domainErrors.NewTransactionError(
		domainErrors.KindInternal, domainErrors.CodeRetryLimitExceeded, "retries exhausted", false, false,
	))

	entry, err := ReconstructDeadLetterEntry(txID, errorJSON, enqueued)
	if err != nil {
		t.Fatalf("ReconstructDeadLetterEntry() error = %v", err)
	}
	if entry.Error().Code != domainErrors.CodeRetryLimitExceeded {
		t.Errorf("Error.Code = %q, want %q", entry.Error().Code, domainErrors.CodeRetryLimitExceeded)
	}
	if !entry.EnqueuedAt().Equal(enqueued) {
		t.Errorf("EnqueuedAt = %v, want %v", entry.EnqueuedAt(), enqueued)
	}

	if _, err := ReconstructDeadLetterEntry(txID, []byte("{broken"), enqueued); err == nil {
		t.Error("broken error JSON should fail reconstruction")
	}
}
