package transaction

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/application/dtos"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/errors"
)

// DeadLetterReprocessor pulls a transaction out of the dead-letter queue and
// runs a fresh recovery pass. Implemented by recovery.Manager.
type DeadLetterReprocessor interface {
	ReprocessFromDeadLetter(ctx context.Context, transactionID uuid.UUID) (*entities.Transaction, error)
}

// ReprocessTransactionUseCase is the operator entry point for draining the
// dead-letter queue one transaction at a time.
type ReprocessTransactionUseCase struct {
	reprocessor DeadLetterReprocessor
	logger      *slog.Logger
}

// NewReprocessTransactionUseCase creates the use case.
func NewReprocessTransactionUseCase(reprocessor DeadLetterReprocessor, logger *slog.Logger) *ReprocessTransactionUseCase {
	return &ReprocessTransactionUseCase{
		reprocessor: reprocessor,
		logger:      logger.With(slog.String("component", "reprocess_transaction_usecase")),
	}
}

// Execute removes the transaction from the dead-letter queue and initiates
// recovery against its stored error.
func (uc *ReprocessTransactionUseCase) Execute(ctx context.Context, cmd dtos.ReprocessTransactionCommand) (*dtos.TransactionDTO, error) {
	transactionID, err := uuid.Parse(cmd.TransactionID)
	if err != nil {
		return nil, errors.ValidationError{Field: "transactionId", Message: "must be a valid UUID"}
	}

	tx, err := uc.reprocessor.ReprocessFromDeadLetter(ctx, transactionID)
	if err != nil && tx == nil {
		return nil, err
	}
	if err != nil {
		// Recovery after the dequeue failed; the transaction is out of the
		// queue and back in the regular failure flow.
		uc.logger.Warn("reprocessing initiated recovery with error",
			slog.String("transaction_id", transactionID.String()),
			slog.String("error", err.Error()),
		)
	}

	uc.logger.Info("transaction reprocessing initiated",
		slog.String("transaction_id", transactionID.String()),
		slog.String("status", string(tx.Status())),
	)

	dto := dtos.ToTransactionDTO(tx)
	return &dto, nil
}
