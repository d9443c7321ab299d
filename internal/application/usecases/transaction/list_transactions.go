package transaction

import (
	"context"
	"fmt"

	"github.com/payflowhq/payflow/internal/application/dtos"
	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/errors"
)

// maxPageSize caps how many rows one query may return.
const maxPageSize = 100

// ListCustomerTransactionsUseCase pages through a customer's transactions
// with optional status, type and date-range filters.
type ListCustomerTransactionsUseCase struct {
	transactionRepo ports.TransactionRepository
}

// NewListCustomerTransactionsUseCase creates the use case.
func NewListCustomerTransactionsUseCase(transactionRepo ports.TransactionRepository) *ListCustomerTransactionsUseCase {
	return &ListCustomerTransactionsUseCase{
		transactionRepo: transactionRepo,
	}
}

// Execute returns a page of the customer's transactions, newest first.
func (uc *ListCustomerTransactionsUseCase) Execute(ctx context.Context, query dtos.ListCustomerTransactionsQuery) (*dtos.TransactionListDTO, error) {
	if query.CustomerID == "" {
		return nil, errors.ValidationError{Field: "customerId", Message: "must not be empty"}
	}

	filter := ports.TransactionFilter{
		StartDate: query.StartDate,
		EndDate:   query.EndDate,
		Offset:    query.Offset,
	}

	if query.Status != nil {
		status := entities.TransactionStatus(*query.Status)
		if !status.IsValid() {
			return nil, errors.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", *query.Status)}
		}
		filter.Status = &status
	}

	if query.Type != nil {
		txType := entities.TransactionType(*query.Type)
		if !txType.IsValid() {
			return nil, errors.ValidationError{Field: "type", Message: fmt.Sprintf("unknown type %q", *query.Type)}
		}
		filter.Type = &txType
	}

	filter.Limit = query.Limit
	if filter.Limit <= 0 || filter.Limit > maxPageSize {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	transactions, err := uc.transactionRepo.FindByCustomerID(ctx, query.CustomerID, filter)
	if err != nil {
		return nil, fmt.Errorf("list customer transactions: %w", err)
	}

	items := dtos.ToTransactionDTOList(transactions)
	return &dtos.TransactionListDTO{
		Transactions: items,
		Count:        len(items),
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	}, nil
}
