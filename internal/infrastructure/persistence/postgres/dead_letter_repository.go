// Package postgres - DeadLetterRepository, the terminal parking area for
// transactions no retry or recovery strategy could rescue.
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
)

// Compile-time check
var _ ports.DeadLetterRepository = (*DeadLetterRepository)(nil)

// DeadLetterRepository implements ports.DeadLetterRepository.
type DeadLetterRepository struct {
	pool *pgxpool.Pool
}

// NewDeadLetterRepository creates a DeadLetterRepository.
func NewDeadLetterRepository(pool *pgxpool.Pool) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

// getQuerier returns the context transaction when present, the pool otherwise.
func (r *DeadLetterRepository) getQuerier(ctx context.Context) querier {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// Enqueue stores an entry. A transaction dead-lettered twice keeps only the
// latest error record.
func (r *DeadLetterRepository) Enqueue(ctx context.Context, entry *entities.DeadLetterEntry) error {
	q := r.getQuerier(ctx)

	errorJSON, err := entry.ErrorJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter error: %w", err)
	}

	query := `
		INSERT INTO dead_letter (transaction_id, error, enqueued_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (transaction_id) DO UPDATE
		SET error = EXCLUDED.error, enqueued_at = EXCLUDED.enqueued_at
	`

	_, err = q.Exec(ctx, query, entry.TransactionID(), errorJSON, entry.EnqueuedAt())
	if err != nil {
		return fmt.Errorf("failed to enqueue dead letter entry: %w", err)
	}

	return nil
}

// Remove deletes an entry.
func (r *DeadLetterRepository) Remove(ctx context.Context, transactionID uuid.UUID) error {
	q := r.getQuerier(ctx)

	query := `
		DELETE FROM dead_letter
		WHERE transaction_id = $1
	`

	result, err := q.Exec(ctx, query, transactionID)
	if err != nil {
		return fmt.Errorf("failed to remove dead letter entry: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domainErrors.ErrDeadLetterNotFound
	}

	return nil
}

// FindByTransactionID loads one entry.
func (r *DeadLetterRepository) FindByTransactionID(ctx context.Context, transactionID uuid.UUID) (*entities.DeadLetterEntry, error) {
	q := r.getQuerier(ctx)

	query := `
		SELECT transaction_id, error, enqueued_at
		FROM dead_letter
		WHERE transaction_id = $1
	`

	entry, err := scanDeadLetterEntry(q.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrDeadLetterNotFound
		}
		return nil, err
	}

	return entry, nil
}

// List returns entries oldest first.
func (r *DeadLetterRepository) List(ctx context.Context, limit, offset int) ([]*entities.DeadLetterEntry, error) {
	q := r.getQuerier(ctx)

	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT transaction_id, error, enqueued_at
		FROM dead_letter
		ORDER BY enqueued_at ASC
		OFFSET $1 LIMIT $2
	`

	rows, err := q.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}
	defer rows.Close()

	var entries []*entities.DeadLetterEntry
	for rows.Next() {
		entry, err := scanDeadLetterEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letter rows: %w", err)
	}

	return entries, nil
}

// CountByErrorCode groups queue contents by the recorded error code.
func (r *DeadLetterRepository) CountByErrorCode(ctx context.Context) ([]ports.DeadLetterStat, error) {
	q := r.getQuerier(ctx)

	query := `
		SELECT COALESCE(error->>'code', 'unknown') AS error_code, COUNT(*)
		FROM dead_letter
		GROUP BY error_code
		ORDER BY COUNT(*) DESC
	`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letter entries: %w", err)
	}
	defer rows.Close()

	var stats []ports.DeadLetterStat
	for rows.Next() {
		var stat ports.DeadLetterStat
		if err := rows.Scan(&stat.ErrorCode, &stat.Count); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter stat: %w", err)
		}
		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letter stats: %w", err)
	}

	return stats, nil
}

// scanDeadLetterEntry reads one row into a DeadLetterEntry.
func scanDeadLetterEntry(row pgx.Row) (*entities.DeadLetterEntry, error) {
	var (
		transactionID uuid.UUID
		errorJSON     []byte
		enqueuedAt    time.Time
	)

	if err := row.Scan(&transactionID, &errorJSON, &enqueuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan dead letter entry: %w", err)
	}

	entry, err := entities.ReconstructDeadLetterEntry(transactionID, errorJSON, enqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to reconstruct dead letter entry: %w", err)
	}

	return entry, nil
}
