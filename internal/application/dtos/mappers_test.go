package dtos

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/errors"
	"github.com/payflowhq/payflow/internal/domain/valueobjects"
)

func newTestTransaction(t *testing.T) *entities.Transaction {
	t.Helper()
	money, err := valueobjects.NewMoney("100.50", valueobjects.MustNewCurrency("USD"))
	require.NoError(t, err)

	tx, err := entities.NewTransaction(
		entities.TransactionTypePayment,
		money,
		"cust-001",
		"pm-001",
		uuid.New().String(),
		map[string]interface{}{"orderId": "ord-42"},
	)
	require.NoError(t, err)
	return tx
}

func TestToTransactionDTO(t *testing.T) {
	tx := newTestTransaction(t)

	dto := ToTransactionDTO(tx)

	assert.Equal(t, tx.ID().String(), dto.ID)
	assert.Equal(t, tx.IdempotencyKey(), dto.IdempotencyKey)
	assert.Equal(t, "PAYMENT", dto.Type)
	assert.Equal(t, "PENDING", dto.Status)
	assert.Equal(t, "100.50", dto.Amount)
	assert.Equal(t, "USD", dto.Currency)
	assert.Equal(t, "cust-001", dto.CustomerID)
	assert.Equal(t, "pm-001", dto.PaymentMethodID)
	assert.Equal(t, 0, dto.RetryCount)
	assert.Equal(t, "ord-42", dto.Metadata["orderId"])
	assert.Nil(t, dto.Error)
	assert.Nil(t, dto.CompletedAt)
	assert.Nil(t, dto.FailedAt)
	assert.False(t, dto.CreatedAt.IsZero())
	assert.False(t, dto.UpdatedAt.IsZero())
}

func TestToTransactionDTO_CompletedTransaction(t *testing.T) {
	tx := newTestTransaction(t)
	require.NoError(t, tx.StartProcessing())
	require.NoError(t, tx.MarkCompleted())

	dto := ToTransactionDTO(tx)

	assert.Equal(t, "COMPLETED", dto.Status)
	require.NotNil(t, dto.CompletedAt)
	assert.False(t, dto.CompletedAt.IsZero())
	assert.Nil(t, dto.FailedAt)
}

func TestToTransactionDTO_FailedTransaction(t *testing.T) {
	tx := newTestTransaction(t)
	require.NoError(t, tx.StartProcessing())

	decline := errors.NewProviderDeclinedError("DO_NOT_HONOR", "do not honor", false).
		WithDetails(map[string]interface{}{"network": "visa"})
	require.NoError(t, tx.MarkFailed(decline))

	dto := ToTransactionDTO(tx)

	assert.Equal(t, "FAILED", dto.Status)
	require.NotNil(t, dto.FailedAt)
	require.NotNil(t, dto.Error)
	assert.Equal(t, "DO_NOT_HONOR", dto.Error.Code)
	assert.Equal(t, "do not honor", dto.Error.Message)
	assert.False(t, dto.Error.Retryable)
	assert.False(t, dto.Error.Recoverable)
	assert.Equal(t, "visa", dto.Error.Details["network"])
}

func TestToTransactionDTO_NoMetadata(t *testing.T) {
	money, err := valueobjects.NewMoney("20.00", valueobjects.MustNewCurrency("EUR"))
	require.NoError(t, err)
	tx, err := entities.NewTransaction(
		entities.TransactionTypeRefund,
		money,
		"cust-002",
		"pm-002",
		uuid.New().String(),
		nil,
	)
	require.NoError(t, err)

	dto := ToTransactionDTO(tx)

	assert.Nil(t, dto.Metadata)
	assert.Equal(t, "REFUND", dto.Type)
}

func TestMapTransactionToDTO(t *testing.T) {
	tx := newTestTransaction(t)

	dto := MapTransactionToDTO(tx)

	require.NotNil(t, dto)
	assert.Equal(t, ToTransactionDTO(tx), *dto)
}

func TestToTransactionDTOList(t *testing.T) {
	first := newTestTransaction(t)
	second := newTestTransaction(t)
	third := newTestTransaction(t)

	dtos := ToTransactionDTOList([]*entities.Transaction{first, second, third})

	require.Len(t, dtos, 3)
	assert.Equal(t, first.ID().String(), dtos[0].ID)
	assert.Equal(t, second.ID().String(), dtos[1].ID)
	assert.Equal(t, third.ID().String(), dtos[2].ID)
}

func TestToTransactionDTOList_Empty(t *testing.T) {
	dtos := ToTransactionDTOList(nil)

	assert.NotNil(t, dtos)
	assert.Len(t, dtos, 0)
}

func TestToDeadLetterStatsDTO(t *testing.T) {
	stats := []ports.DeadLetterStat{
		{ErrorCode: "DO_NOT_HONOR", Count: 5},
		{ErrorCode: "SYSTEM_ERROR", Count: 2},
	}

	dto := ToDeadLetterStatsDTO(stats)

	assert.Equal(t, 7, dto.Total)
	require.Len(t, dto.ByErrorCode, 2)
	assert.Equal(t, "DO_NOT_HONOR", dto.ByErrorCode[0].ErrorCode)
	assert.Equal(t, 5, dto.ByErrorCode[0].Count)
	assert.Equal(t, "SYSTEM_ERROR", dto.ByErrorCode[1].ErrorCode)
	assert.Equal(t, 2, dto.ByErrorCode[1].Count)
}

func TestToDeadLetterStatsDTO_Empty(t *testing.T) {
	dto := ToDeadLetterStatsDTO(nil)

	assert.Equal(t, 0, dto.Total)
	assert.NotNil(t, dto.ByErrorCode)
	assert.Len(t, dto.ByErrorCode, 0)
}
