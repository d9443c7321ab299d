// Package dtos - converters from domain entities to API representations.
package dtos

import (
	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/entities"
)

// ============================================
// Transaction Mappers
// ============================================

// ToTransactionDTO converts a domain transaction into its API shape.
func ToTransactionDTO(tx *entities.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:              tx.ID().String(),
		IdempotencyKey:  tx.IdempotencyKey(),
		Type:            string(tx.Type()),
		Status:          string(tx.Status()),
		Amount:          tx.Amount().Decimal(),
		Currency:        tx.Amount().Currency().Code(),
		CustomerID:      tx.CustomerID(),
		PaymentMethodID: tx.PaymentMethodID(),
		RetryCount:      tx.RetryCount(),
		CreatedAt:       tx.CreatedAt(),
		UpdatedAt:       tx.UpdatedAt(),
		CompletedAt:     tx.CompletedAt(),
		FailedAt:        tx.FailedAt(),
	}

	if metadata := tx.Metadata(); len(metadata) > 0 {
		dto.Metadata = metadata
	}

	if txErr := tx.Error(); txErr != nil {
		dto.Error = &TransactionErrorDTO{
			Code:        txErr.Code,
			Message:     txErr.Message,
			Recoverable: txErr.Recoverable,
			Retryable:   txErr.Retryable,
			Details:     txErr.Details,
		}
	}

	return dto
}

// MapTransactionToDTO is the pointer-returning variant used by use cases.
func MapTransactionToDTO(tx *entities.Transaction) *TransactionDTO {
	dto := ToTransactionDTO(tx)
	return &dto
}

// ToTransactionDTOList converts a slice of transactions.
func ToTransactionDTOList(transactions []*entities.Transaction) []TransactionDTO {
	result := make([]TransactionDTO, len(transactions))
	for i, tx := range transactions {
		result[i] = ToTransactionDTO(tx)
	}
	return result
}

// ============================================
// Stats Mappers
// ============================================

// ToDeadLetterStatsDTO converts grouped dead-letter counts.
func ToDeadLetterStatsDTO(stats []ports.DeadLetterStat) DeadLetterStatsDTO {
	dto := DeadLetterStatsDTO{
		ByErrorCode: make([]DeadLetterStatDTO, len(stats)),
	}
	for i, stat := range stats {
		dto.ByErrorCode[i] = DeadLetterStatDTO{
			ErrorCode: stat.ErrorCode,
			Count:     stat.Count,
		}
		dto.Total += stat.Count
	}
	return dto
}
