package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/valueobjects"
)

// ProviderRequest carries everything a payment provider needs to process one
// transaction attempt.
type ProviderRequest struct {
	TransactionID   uuid.UUID
	Type            entities.TransactionType
	Amount          valueobjects.Money
	CustomerID      string
	PaymentMethodID string
	Metadata        map[string]interface{}
}

// ProviderResult is the provider's acknowledgement of a settled attempt.
type ProviderResult struct {
	// ProviderReference is the provider-side identifier for the operation.
	ProviderReference string
	// Details holds provider-specific response fields merged into the
	// transaction metadata.
	Details map[string]interface{}
}

// PaymentProvider is the adapter boundary to the external payment network.
//
// Failures come back as *errors.TransactionError so the engine can route
// them: retryable communication faults to the retry manager, recoverable
// declines to the recovery manager, the rest to the dead-letter queue.
type PaymentProvider interface {
	// Name identifies the provider in logs, metadata and webhook routes.
	Name() string

	// Process executes one attempt for the transaction described by req.
	Process(ctx context.Context, req ProviderRequest) (*ProviderResult, error)

	// HealthCheck probes provider availability for the readiness endpoint.
	HealthCheck(ctx context.Context) error
}
