package transaction

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/payflowhq/payflow/internal/application/dtos"
	"github.com/payflowhq/payflow/internal/domain/errors"
)

// RetryCanceller withdraws a scheduled retry. Implemented by the retry
// manager.
type RetryCanceller interface {
	CancelRetry(ctx context.Context, id uuid.UUID) (bool, error)
}

// CancelRetryUseCase withdraws a scheduled retry: the pending timer is
// removed and the transaction parked back in FAILED with the cancellation
// recorded in metadata.
type CancelRetryUseCase struct {
	retry  RetryCanceller
	logger *slog.Logger
}

// NewCancelRetryUseCase creates the use case.
func NewCancelRetryUseCase(retry RetryCanceller, logger *slog.Logger) *CancelRetryUseCase {
	return &CancelRetryUseCase{retry: retry, logger: logger}
}

// Execute cancels the scheduled retry. It reports whether anything was
// actually withdrawn; cancelling a transaction with no pending retry is not
// an error.
func (uc *CancelRetryUseCase) Execute(ctx context.Context, cmd dtos.CancelRetryCommand) (bool, error) {
	id, err := uuid.Parse(cmd.TransactionID)
	if err != nil {
		return false, errors.ValidationError{Field: "transactionId", Message: "must be a UUID"}
	}

	cancelled, err := uc.retry.CancelRetry(ctx, id)
	if err != nil {
		return false, err
	}

	uc.logger.Info("retry cancellation handled",
		slog.String("transaction_id", id.String()),
		slog.Bool("cancelled", cancelled),
	)
	return cancelled, nil
}
