package transaction

import (
	"context"
	"fmt"

	"github.com/payflowhq/payflow/internal/application/dtos"
	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/errors"
)

// GetTransactionByIdempotencyKeyUseCase looks a transaction up by the
// client-supplied key, letting integrators recover the outcome of a request
// whose response they lost.
type GetTransactionByIdempotencyKeyUseCase struct {
	transactionRepo ports.TransactionRepository
}

// NewGetTransactionByIdempotencyKeyUseCase creates the use case.
func NewGetTransactionByIdempotencyKeyUseCase(transactionRepo ports.TransactionRepository) *GetTransactionByIdempotencyKeyUseCase {
	return &GetTransactionByIdempotencyKeyUseCase{
		transactionRepo: transactionRepo,
	}
}

// Execute returns the transaction carrying the key.
func (uc *GetTransactionByIdempotencyKeyUseCase) Execute(ctx context.Context, query dtos.GetTransactionByIdempotencyKeyQuery) (*dtos.TransactionDTO, error) {
	if len(query.IdempotencyKey) < entities.MinIdempotencyKeyLength {
		return nil, errors.ValidationError{
			Field:   "idempotencyKey",
			Message: fmt.Sprintf("must be at least %d characters", entities.MinIdempotencyKeyLength),
		}
	}

	tx, err := uc.transactionRepo.FindByIdempotencyKey(ctx, query.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	result := dtos.ToTransactionDTO(tx)
	return &result, nil
}
