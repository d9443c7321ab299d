// Package postgres - LockRepository, a database-backed record lock.
//
// One row per lock key. A lock is held while a non-expired row exists; the
// token fences releases so a holder whose TTL lapsed cannot free a lock a
// new holder has since taken over.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/payflowhq/payflow/internal/application/ports"
	domainErrors "github.com/payflowhq/payflow/internal/domain/errors"
)

// Compile-time check
var _ ports.RecordLocker = (*LockRepository)(nil)

// LockRepository implements ports.RecordLocker on the locks table.
type LockRepository struct {
	pool *pgxpool.Pool
}

// NewLockRepository creates a LockRepository.
func NewLockRepository(pool *pgxpool.Pool) *LockRepository {
	return &LockRepository{pool: pool}
}

// getQuerier returns the context transaction when present, the pool otherwise.
func (r *LockRepository) getQuerier(ctx context.Context) querier {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// AcquireLock takes the lock for key, valid for ttl. A single statement
// inserts the row or takes over an expired one, so two contenders can never
// both see success.
func (r *LockRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	q := r.getQuerier(ctx)

	token := uuid.New().String()
	expiresAt := time.Now().UTC().Add(ttl)

	query := `
		INSERT INTO locks (key, token, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET token = EXCLUDED.token, expires_at = EXCLUDED.expires_at
		WHERE locks.expires_at <= NOW()
	`

	result, err := q.Exec(ctx, query, key, token, expiresAt)
	if err != nil {
		return "", fmt.Errorf("failed to acquire lock %q: %w", key, err)
	}

	if result.RowsAffected() == 0 {
		// Another holder owns a non-expired lock.
		return "", domainErrors.ErrLockNotAcquired
	}

	return token, nil
}

// ReleaseLock frees the lock if token still identifies the current holder.
// False means the hold expired and was taken over in the meantime.
func (r *LockRepository) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	q := r.getQuerier(ctx)

	query := `
		DELETE FROM locks
		WHERE key = $1 AND token = $2
	`

	result, err := q.Exec(ctx, query, key, token)
	if err != nil {
		return false, fmt.Errorf("failed to release lock %q: %w", key, err)
	}

	return result.RowsAffected() > 0, nil
}

// PurgeExpired removes expired lock rows left behind by crashed holders.
func (r *LockRepository) PurgeExpired(ctx context.Context) (int64, error) {
	q := r.getQuerier(ctx)

	query := `
		DELETE FROM locks
		WHERE expires_at <= NOW()
	`

	result, err := q.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired locks: %w", err)
	}

	return result.RowsAffected(), nil
}
