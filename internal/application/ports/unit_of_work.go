package ports

import "context"

// UnitOfWork draws transaction boundaries around multi-step operations.
// One Execute call is one database transaction: the function's error rolls
// everything back, nil commits.
//
// The context passed to fn carries the transaction; repository calls inside
// fn must use that context, not the outer one.
type UnitOfWork interface {
	// Execute runs fn inside a transaction, committing on nil and rolling
	// back on error or panic.
	Execute(ctx context.Context, fn func(ctx context.Context) error) error

	// ExecuteWithResult is Execute for functions that produce a value.
	ExecuteWithResult(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error)
}

// UnitOfWorkFactory creates UnitOfWork instances when isolated transactions
// are needed outside the shared one.
type UnitOfWorkFactory interface {
	New() UnitOfWork
}
