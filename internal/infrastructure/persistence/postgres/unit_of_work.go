// Package postgres - UnitOfWork over pgx transactions.
//
// Usage:
//
//	err := uow.Execute(ctx, func(txCtx context.Context) error {
//	    tx, _ := transactionRepo.FindByID(txCtx, id)
//	    tx.MarkCompleted()
//	    if err := transactionRepo.Save(txCtx, tx); err != nil {
//	        return err // ROLLBACK
//	    }
//	    return eventStore.SaveEvent(txCtx, event) // nil => COMMIT
//	})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/payflowhq/payflow/internal/application/ports"
)

// Compile-time checks
var _ ports.UnitOfWork = (*UnitOfWork)(nil)
var _ ports.UnitOfWorkFactory = (*UnitOfWorkFactory)(nil)

// UnitOfWork implements ports.UnitOfWork with PostgreSQL transactions.
// Default isolation level is READ COMMITTED.
type UnitOfWork struct {
	pool *pgxpool.Pool
	opts pgx.TxOptions
}

// NewUnitOfWork creates a UnitOfWork with default isolation.
func NewUnitOfWork(pool *pgxpool.Pool) *UnitOfWork {
	return &UnitOfWork{
		pool: pool,
		opts: pgx.TxOptions{
			IsoLevel: pgx.ReadCommitted,
		},
	}
}

// NewUnitOfWorkWithIsolation creates a UnitOfWork with the given isolation
// level.
func NewUnitOfWorkWithIsolation(pool *pgxpool.Pool, isolation pgx.TxIsoLevel) *UnitOfWork {
	return &UnitOfWork{
		pool: pool,
		opts: pgx.TxOptions{
			IsoLevel: isolation,
		},
	}
}

// Execute runs fn inside a transaction.
//
// A nil return from fn commits; an error rolls back; a panic rolls back and
// re-panics. When the context already carries a transaction, fn runs inside
// it directly since PostgreSQL has no true nested transactions.
//
// Repositories called inside fn must use the context fn receives.
func (u *UnitOfWork) Execute(ctx context.Context, fn func(context.Context) error) error {
	if hasTx(ctx) {
		return fn(ctx)
	}

	tx, err := u.pool.BeginTx(ctx, u.opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	txCtx := injectTx(ctx, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ExecuteWithResult is Execute for functions that produce a value.
func (u *UnitOfWork) ExecuteWithResult(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	var result interface{}

	err := u.Execute(ctx, func(txCtx context.Context) error {
		var fnErr error
		result, fnErr = fn(txCtx)
		return fnErr
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// ExecuteWithRetry repeats the transaction on serialization failures and
// deadlocks. maxRetries of zero disables retrying.
func (u *UnitOfWork) ExecuteWithRetry(ctx context.Context, maxRetries int, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := u.Execute(ctx, fn)
		if err == nil {
			return nil
		}

		if !isRetryableError(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// UnitOfWorkFactory creates UnitOfWork instances.
type UnitOfWorkFactory struct {
	pool *pgxpool.Pool
}

// NewUnitOfWorkFactory creates the factory.
func NewUnitOfWorkFactory(pool *pgxpool.Pool) *UnitOfWorkFactory {
	return &UnitOfWorkFactory{pool: pool}
}

// New creates a UnitOfWork with default settings.
func (f *UnitOfWorkFactory) New() ports.UnitOfWork {
	return NewUnitOfWork(f.pool)
}

// NewWithIsolation creates a UnitOfWork with the given isolation level.
func (f *UnitOfWorkFactory) NewWithIsolation(isolation pgx.TxIsoLevel) *UnitOfWork {
	return NewUnitOfWorkWithIsolation(f.pool, isolation)
}

// NewSerializable creates a UnitOfWork with SERIALIZABLE isolation for the
// few operations that need full isolation.
func (f *UnitOfWorkFactory) NewSerializable() *UnitOfWork {
	return NewUnitOfWorkWithIsolation(f.pool, pgx.Serializable)
}
