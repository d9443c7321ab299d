// Package recovery rescues transactions whose processing failed in a way a
// plain retry cannot fix. An ordered strategy list decides what to attempt;
// transactions nothing can rescue land in the dead-letter queue.
package recovery

import (
	"context"

	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/errors"
)

// Result is what a successful strategy learned. Data is merged into the
// transaction metadata.
type Result struct {
	Data map[string]interface{}
}

// Strategy is one recovery approach. Strategies are consulted in
// registration order; the first whose CanHandle accepts the error runs.
type Strategy interface {
	// Name identifies the strategy in logs and event payloads.
	Name() string

	// CanHandle reports whether this strategy applies to the failure.
	CanHandle(txErr *errors.TransactionError) bool

	// Execute attempts the rescue. A nil error means the transaction
	// completed; the returned error (routed by its retryable flag) means it
	// did not.
	Execute(ctx context.Context, tx *entities.Transaction) (*Result, error)
}
