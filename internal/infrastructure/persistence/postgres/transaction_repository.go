// Package postgres - TransactionRepository implementation with idempotency support.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/entities"
	domainErrors "github.com/payflowhq/payflow/internal/domain/errors"
	"github.com/payflowhq/payflow/internal/domain/valueobjects"
)

// Compile-time check
var _ ports.TransactionRepository = (*TransactionRepository)(nil)

// transactionColumns is the column list every SELECT shares, in scan order.
// The amount is cast to text so it round-trips through the decimal string
// representation without touching floats.
const transactionColumns = `id, idempotency_key, transaction_type, status,
	   amount::text, currency, customer_id, payment_method_id, retry_count,
	   metadata, error, created_at, updated_at, completed_at, failed_at`

// TransactionRepository implements ports.TransactionRepository.
//
// Storage notes:
// - Idempotency is enforced by the unique idempotency_key constraint.
// - Amount is stored as NUMERIC and exchanged as a decimal string so no
//   float conversion ever touches money.
// - Metadata and the failure record are JSONB.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a TransactionRepository.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// getQuerier returns the context transaction when present, the pool otherwise.
func (r *TransactionRepository) getQuerier(ctx context.Context) querier {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// Save persists the transaction: INSERT for new rows, UPDATE of the mutable
// columns on conflict by ID.
func (r *TransactionRepository) Save(ctx context.Context, tx *entities.Transaction) error {
	q := r.getQuerier(ctx)

	metadataJSON, err := tx.MetadataJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	errorJSON, err := tx.ErrorJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal error record: %w", err)
	}

	query := `
		INSERT INTO transactions (
			id, idempotency_key, transaction_type, status,
			amount, currency, customer_id, payment_method_id, retry_count,
			metadata, error, created_at, updated_at, completed_at, failed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			metadata = EXCLUDED.metadata,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			failed_at = EXCLUDED.failed_at
	`

	_, err = q.Exec(ctx, query,
		tx.ID(),
		tx.IdempotencyKey(),
		string(tx.Type()),
		string(tx.Status()),
		tx.Amount().Decimal(),
		tx.Amount().Currency().Code(),
		tx.CustomerID(),
		tx.PaymentMethodID(),
		tx.RetryCount(),
		metadataJSON,
		errorJSON,
		tx.CreatedAt(),
		tx.UpdatedAt(),
		tx.CompletedAt(),
		tx.FailedAt(),
	)

	if err != nil {
		// Two transactions racing on the same idempotency key; the loser
		// surfaces as a duplicate so the caller can replay the winner.
		if isUniqueViolation(err, "transactions_idempotency_key") {
			return domainErrors.ErrDuplicateTransaction
		}
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	return nil
}

// FindByID loads a transaction by primary key.
func (r *TransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*entities.Transaction, error) {
	q := r.getQuerier(ctx)

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE id = $1
	`

	tx, err := r.scanTransaction(q.QueryRow(ctx, query, id))
	if err != nil {
		if domainErrors.IsNotFound(err) {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return nil, err
	}

	return tx, nil
}

// FindByIdempotencyKey loads a transaction by the client-supplied key.
// Returns ErrTransactionNotFound when no transaction carries the key.
func (r *TransactionRepository) FindByIdempotencyKey(ctx context.Context, key string) (*entities.Transaction, error) {
	q := r.getQuerier(ctx)

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE idempotency_key = $1
	`

	tx, err := r.scanTransaction(q.QueryRow(ctx, query, key))
	if err != nil {
		if domainErrors.IsNotFound(err) {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return nil, err
	}

	return tx, nil
}

// FindByCustomerID returns a customer's transactions, newest first, narrowed
// by the filter.
func (r *TransactionRepository) FindByCustomerID(ctx context.Context, customerID string, filter ports.TransactionFilter) ([]*entities.Transaction, error) {
	q := r.getQuerier(ctx)

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE customer_id = $1
	`

	args := []interface{}{customerID}
	argNum := 2

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, string(*filter.Status))
		argNum++
	}

	if filter.Type != nil {
		query += fmt.Sprintf(" AND transaction_type = $%d", argNum)
		args = append(args, string(*filter.Type))
		argNum++
	}

	if filter.StartDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argNum)
		args = append(args, *filter.StartDate)
		argNum++
	}

	if filter.EndDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argNum)
		args = append(args, *filter.EndDate)
		argNum++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC OFFSET $%d LIMIT $%d", argNum, argNum+1)
	args = append(args, filter.Offset, limit)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find transactions by customer: %w", err)
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// CountByStatus returns how many transactions sit in each state.
func (r *TransactionRepository) CountByStatus(ctx context.Context) (map[entities.TransactionStatus]int, error) {
	q := r.getQuerier(ctx)

	query := `
		SELECT status, COUNT(*)
		FROM transactions
		GROUP BY status
	`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count transactions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[entities.TransactionStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[entities.TransactionStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read status counts: %w", err)
	}

	return counts, nil
}

// FindScheduledRetries returns RECOVERY_PENDING transactions carrying a
// nextRetryAt metadata entry, oldest first. Used to rebuild retry timers
// after a restart.
func (r *TransactionRepository) FindScheduledRetries(ctx context.Context) ([]*entities.Transaction, error) {
	q := r.getQuerier(ctx)

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'RECOVERY_PENDING' AND metadata ? 'nextRetryAt'
		ORDER BY created_at ASC
	`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find scheduled retries: %w", err)
	}
	defer rows.Close()

	return r.scanTransactions(rows)
}

// SumAmountsSince totals a customer's transaction volume in the given
// currency from the cutoff onward. FAILED and ROLLED_BACK rows do not count
// against spending limits.
func (r *TransactionRepository) SumAmountsSince(ctx context.Context, customerID string, currency valueobjects.Currency, since time.Time) (valueobjects.Money, error) {
	q := r.getQuerier(ctx)

	query := `
		SELECT COALESCE(SUM(amount), 0)::text
		FROM transactions
		WHERE customer_id = $1
		  AND currency = $2
		  AND created_at >= $3
		  AND status NOT IN ('FAILED', 'ROLLED_BACK')
	`

	var total string
	err := q.QueryRow(ctx, query, customerID, currency.Code(), since).Scan(&total)
	if err != nil {
		return valueobjects.Money{}, fmt.Errorf("failed to sum transaction amounts: %w", err)
	}

	sum, err := valueobjects.NewMoney(total, currency)
	if err != nil {
		return valueobjects.Money{}, fmt.Errorf("invalid amount sum in database: %w", err)
	}

	return sum, nil
}

// scanTransaction reads one row into a Transaction entity.
func (r *TransactionRepository) scanTransaction(row pgx.Row) (*entities.Transaction, error) {
	var (
		id                       uuid.UUID
		idempotencyKey           string
		txTypeStr, statusStr     string
		amountStr, currencyCode  string
		customerID               string
		paymentMethodID          string
		retryCount               int
		metadataJSON, errorJSON  []byte
		createdAt, updatedAt     time.Time
		completedAt, failedAt    *time.Time
	)

	err := row.Scan(
		&id,
		&idempotencyKey,
		&txTypeStr,
		&statusStr,
		&amountStr,
		&currencyCode,
		&customerID,
		&paymentMethodID,
		&retryCount,
		&metadataJSON,
		&errorJSON,
		&createdAt,
		&updatedAt,
		&completedAt,
		&failedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	currency, err := valueobjects.NewCurrency(currencyCode)
	if err != nil {
		return nil, fmt.Errorf("invalid currency in database: %w", err)
	}

	amount, err := valueobjects.NewMoney(amountStr, currency)
	if err != nil {
		return nil, fmt.Errorf("invalid amount in database: %w", err)
	}

	tx, err := entities.ReconstructTransaction(
		id,
		idempotencyKey,
		entities.TransactionType(txTypeStr),
		entities.TransactionStatus(statusStr),
		amount,
		customerID,
		paymentMethodID,
		retryCount,
		metadataJSON,
		errorJSON,
		createdAt,
		updatedAt,
		completedAt,
		failedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct transaction: %w", err)
	}

	return tx, nil
}

// scanTransactions reads all rows of a result set.
func (r *TransactionRepository) scanTransactions(rows pgx.Rows) ([]*entities.Transaction, error) {
	var transactions []*entities.Transaction

	for rows.Next() {
		tx, err := r.scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}

	return transactions, nil
}
