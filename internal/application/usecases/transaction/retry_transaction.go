package transaction

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/payflowhq/payflow/internal/application/dtos"
	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/errors"
)

// ScheduleRetryUseCase handles a manually requested retry of a failed
// transaction. Only FAILED transactions qualify; the automatic paths go
// through the retry manager directly and may also retry RECOVERY_PENDING.
type ScheduleRetryUseCase struct {
	transactionRepo ports.TransactionRepository
	retry           RetryScheduler
	logger          *slog.Logger
}

// NewScheduleRetryUseCase creates the use case.
func NewScheduleRetryUseCase(
	transactionRepo ports.TransactionRepository,
	retryScheduler RetryScheduler,
	logger *slog.Logger,
) *ScheduleRetryUseCase {
	return &ScheduleRetryUseCase{
		transactionRepo: transactionRepo,
		retry:           retryScheduler,
		logger:          logger,
	}
}

// Execute books a retry for the transaction.
func (uc *ScheduleRetryUseCase) Execute(ctx context.Context, cmd dtos.ScheduleRetryCommand) (*dtos.TransactionDTO, error) {
	id, err := uuid.Parse(cmd.TransactionID)
	if err != nil {
		return nil, errors.ValidationError{Field: "transactionId", Message: "must be a UUID"}
	}

	tx, err := uc.transactionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if tx.Status() != entities.TransactionStatusFailed {
		return nil, errors.NewTransactionError(
			errors.KindValidation,
			errors.CodeInvalidState,
			fmt.Sprintf("only FAILED transactions can be retried manually, transaction is %s", tx.Status()),
			false, false,
		)
	}

	// A manual retry may target a transaction whose failure record was never
	// retryable, or was lost. Substitute an operator-initiated cause so the
	// scheduler accepts it.
	txErr := tx.Error()
	if txErr == nil || !txErr.Retryable {
		txErr = errors.NewTransactionError(
			errors.KindInternal,
			errors.CodeManualRetry,
			"manual retry requested by operator",
			false, true,
		)
	}

	scheduled, err := uc.retry.ScheduleRetry(ctx, tx, txErr)
	if err != nil {
		return nil, err
	}

	uc.logger.Info("manual retry scheduled",
		slog.String("transaction_id", id.String()),
		slog.Int("attempt", scheduled.RetryCount()),
	)

	dto := dtos.ToTransactionDTO(scheduled)
	return &dto, nil
}
