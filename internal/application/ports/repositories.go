// Package ports defines the interfaces the application layer depends on.
// Implementations live in the infrastructure layer.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/valueobjects"
)

// TransactionRepository is the durable store for transactions.
type TransactionRepository interface {
	// Save persists the transaction (insert or update keyed by ID).
	Save(ctx context.Context, tx *entities.Transaction) error

	// FindByID loads a transaction, returning ErrTransactionNotFound when absent.
	FindByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error)

	// FindByIdempotencyKey looks a transaction up by its client-supplied key.
	// Returns ErrTransactionNotFound when no transaction carries the key.
	FindByIdempotencyKey(ctx context.Context, key string) (*entities.Transaction, error)

	// FindByCustomerID returns a customer's transactions, newest first,
	// narrowed by the filter.
	FindByCustomerID(ctx context.Context, customerID string, filter TransactionFilter) ([]*entities.Transaction, error)

	// CountByStatus returns how many transactions sit in each state.
	CountByStatus(ctx context.Context) (map[entities.TransactionStatus]int, error)

	// FindScheduledRetries returns RECOVERY_PENDING transactions carrying a
	// nextRetryAt metadata entry. Used to rebuild retry timers after a restart.
	FindScheduledRetries(ctx context.Context) ([]*entities.Transaction, error)

	// SumAmountsSince totals a customer's transaction volume in the given
	// currency from the cutoff onward, skipping FAILED and ROLLED_BACK rows.
	SumAmountsSince(ctx context.Context, customerID string, currency valueobjects.Currency, since time.Time) (valueobjects.Money, error)
}

// TransactionFilter narrows customer transaction queries. Nil fields match
// everything; Limit of zero falls back to the repository default.
type TransactionFilter struct {
	Status    *entities.TransactionStatus
	Type      *entities.TransactionType
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// DeadLetterRepository is the durable holding area for transactions no retry
// or recovery strategy could rescue.
type DeadLetterRepository interface {
	// Enqueue stores an entry, replacing any previous entry for the same
	// transaction.
	Enqueue(ctx context.Context, entry *entities.DeadLetterEntry) error

	// Remove deletes an entry; ErrDeadLetterNotFound when absent.
	Remove(ctx context.Context, transactionID uuid.UUID) error

	// FindByTransactionID loads one entry; ErrDeadLetterNotFound when absent.
	FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*entities.DeadLetterEntry, error)

	// List returns entries oldest first.
	List(ctx context.Context, limit, offset int) ([]*entities.DeadLetterEntry, error)

	// CountByErrorCode groups queue contents by the recorded error code.
	CountByErrorCode(ctx context.Context) ([]DeadLetterStat, error)
}

// DeadLetterStat is one row of the dead-letter breakdown.
type DeadLetterStat struct {
	ErrorCode string
	Count     int
}
