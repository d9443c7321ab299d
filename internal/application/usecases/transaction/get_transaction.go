package transaction

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/application/dtos"
	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/errors"
)

// GetTransactionUseCase fetches a single transaction by ID.
type GetTransactionUseCase struct {
	transactionRepo ports.TransactionRepository
}

// NewGetTransactionUseCase creates the use case.
func NewGetTransactionUseCase(transactionRepo ports.TransactionRepository) *GetTransactionUseCase {
	return &GetTransactionUseCase{
		transactionRepo: transactionRepo,
	}
}

// Execute returns the transaction, or ErrTransactionNotFound.
func (uc *GetTransactionUseCase) Execute(ctx context.Context, query dtos.GetTransactionQuery) (*dtos.TransactionDTO, error) {
	txID, err := uuid.Parse(query.TransactionID)
	if err != nil {
		return nil, errors.ValidationError{Field: "transactionId", Message: "invalid UUID"}
	}

	tx, err := uc.transactionRepo.FindByID(ctx, txID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}

	result := dtos.ToTransactionDTO(tx)
	return &result, nil
}
