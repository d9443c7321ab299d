// Package postgres helpers shared by the repositories.
package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the subset of pgx operations the repositories need. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so a repository runs inside whatever
// transaction the context carries.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txKey keys the transaction stored in the context.
type txKey struct{}

// injectTx stores a transaction in the context. Used by UnitOfWork to hand
// the transaction to repositories.
func injectTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// extractTx pulls the transaction out of the context, nil when absent.
func extractTx(ctx context.Context) pgx.Tx {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	if !ok {
		return nil
	}
	return tx
}

// hasTx reports whether the context carries a transaction.
func hasTx(ctx context.Context) bool {
	return extractTx(ctx) != nil
}

// PostgreSQL error codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"

	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// isPgError reports whether err is a PostgreSQL error with the given code.
func isPgError(err error, code string) bool {
	if err == nil {
		return false
	}

	pgErr, ok := err.(*pgconn.PgError)
	if !ok {
		return false
	}

	return pgErr.Code == code
}

// isUniqueViolation reports whether err is a UNIQUE constraint violation.
// constraintName narrows the check to one constraint; empty matches any.
func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	pgErr, ok := err.(*pgconn.PgError)
	if !ok {
		return false
	}

	if pgErr.Code != pgUniqueViolation {
		return false
	}

	if constraintName != "" {
		return strings.Contains(pgErr.ConstraintName, constraintName)
	}

	return true
}

// isForeignKeyViolation reports a foreign key constraint violation.
func isForeignKeyViolation(err error) bool {
	return isPgError(err, pgForeignKeyViolation)
}

// isSerializationFailure reports a serialization failure or deadlock.
func isSerializationFailure(err error) bool {
	return isPgError(err, pgSerializationFailure) || isPgError(err, pgDeadlockDetected)
}

// isNotNullViolation reports a NOT NULL constraint violation.
func isNotNullViolation(err error) bool {
	return isPgError(err, pgNotNullViolation)
}

// isCheckViolation reports a CHECK constraint violation.
func isCheckViolation(err error) bool {
	return isPgError(err, pgCheckViolation)
}

// isRetryableError reports whether the operation is worth repeating.
// Serialization failures, deadlocks and connection errors qualify.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if isSerializationFailure(err) {
		return true
	}

	pgErr, ok := err.(*pgconn.PgError)
	if ok {
		// Class 08 covers connection exceptions.
		return strings.HasPrefix(pgErr.Code, "08")
	}

	return false
}
