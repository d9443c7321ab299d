// Package transaction contains the use cases of the transaction lifecycle:
// begin, read, status updates, and the retry attempt executor.
package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/payflowhq/payflow/internal/application/dtos"
	appevents "github.com/payflowhq/payflow/internal/application/events"
	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/errors"
	domainevents "github.com/payflowhq/payflow/internal/domain/events"
	"github.com/payflowhq/payflow/internal/domain/valueobjects"
)

// RetryScheduler books the next attempt for transactions that failed with a
// retryable error. Implemented by the retry manager.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) (*entities.Transaction, error)
}

// RecoveryRouter handles failures the retry policy does not cover: recovery
// strategies for recoverable declines, the dead-letter queue for the rest.
// Implemented by the recovery manager.
type RecoveryRouter interface {
	InitiateRecovery(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) error
	MoveToDeadLetter(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) error
}

// BeginTransactionUseCase starts processing of a new transaction.
//
// Flow:
//  1. Idempotency: an existing transaction with the same key and body is
//     returned unchanged; the same key with a different body is a conflict.
//  2. Customer limits are checked before anything is persisted.
//  3. The transaction is inserted in PENDING and transaction.created emitted.
//  4. Under the per-transaction lock: PENDING → PROCESSING, one provider
//     attempt, then COMPLETED or FAILED with the failure recorded.
//  5. A failed attempt is routed by its error flags: retryable to the retry
//     manager, recoverable to the recovery manager, the rest straight to the
//     dead-letter queue.
type BeginTransactionUseCase struct {
	transactionRepo ports.TransactionRepository
	provider        ports.PaymentProvider
	locker          ports.RecordLocker
	limits          *LimitsChecker
	retry           RetryScheduler
	recovery        RecoveryRouter
	uow             ports.UnitOfWork
	emitter         *appevents.Emitter
	logger          *slog.Logger
	tracer          trace.Tracer
	lockTTL         time.Duration
}

// NewBeginTransactionUseCase creates the use case.
func NewBeginTransactionUseCase(
	transactionRepo ports.TransactionRepository,
	provider ports.PaymentProvider,
	locker ports.RecordLocker,
	limits *LimitsChecker,
	retry RetryScheduler,
	recovery RecoveryRouter,
	uow ports.UnitOfWork,
	emitter *appevents.Emitter,
	lockTTL time.Duration,
	logger *slog.Logger,
) *BeginTransactionUseCase {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &BeginTransactionUseCase{
		transactionRepo: transactionRepo,
		provider:        provider,
		locker:          locker,
		limits:          limits,
		retry:           retry,
		recovery:        recovery,
		uow:             uow,
		emitter:         emitter,
		logger:          logger,
		tracer:          otel.Tracer("payflow/transactions"),
		lockTTL:         lockTTL,
	}
}

// Execute begins a transaction. The returned result carries the Replayed flag
// so the HTTP layer can answer 200 for an idempotent repeat instead of 201.
func (uc *BeginTransactionUseCase) Execute(ctx context.Context, cmd dtos.BeginTransactionCommand) (*dtos.BeginTransactionResult, error) {
	ctx, span := uc.tracer.Start(ctx, "transaction.Begin",
		trace.WithAttributes(
			attribute.String("transaction.type", cmd.Type),
			attribute.String("customer.id", cmd.CustomerID),
		))
	defer span.End()

	currency, err := valueobjects.NewCurrency(cmd.Currency)
	if err != nil {
		return nil, errors.ValidationError{Field: "currency", Message: err.Error()}
	}
	amount, err := valueobjects.NewMoney(cmd.Amount, currency)
	if err != nil {
		return nil, errors.ValidationError{Field: "amount", Message: err.Error()}
	}

	// 1. Idempotency: replay or conflict before any side effect.
	existing, err := uc.transactionRepo.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
	if err != nil && !errors.IsNotFound(err) {
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}
	if existing != nil {
		return uc.replay(span, existing, entities.TransactionType(cmd.Type), amount, cmd)
	}

	// 2. Customer spend limits.
	if err := uc.limits.CheckTransactionLimits(ctx, cmd.CustomerID, amount); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "limit breached")
		return nil, err
	}

	// 3. Persist PENDING and announce creation.
	tx, err := entities.NewTransaction(
		entities.TransactionType(cmd.Type),
		amount,
		cmd.CustomerID,
		cmd.PaymentMethodID,
		cmd.IdempotencyKey,
		cmd.Metadata,
	)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("transaction.id", tx.ID().String()))

	err = uc.uow.Execute(ctx, func(txCtx context.Context) error {
		if err := uc.transactionRepo.Save(txCtx, tx); err != nil {
			return err
		}
		_, err := uc.emitter.Emit(txCtx, domainevents.EventTypeTransactionCreated, map[string]interface{}{
			"transactionId":  tx.ID().String(),
			"type":           string(tx.Type()),
			"amount":         amount.Decimal(),
			"currency":       currency.Code(),
			"customerId":     cmd.CustomerID,
			"idempotencyKey": cmd.IdempotencyKey,
		})
		return err
	})
	if err != nil {
		// Two concurrent Begins with the same key race past the lookup; the
		// unique index decides, the loser replays the winner's row.
		if errors.IsDuplicate(err) {
			winner, findErr := uc.transactionRepo.FindByIdempotencyKey(ctx, cmd.IdempotencyKey)
			if findErr != nil {
				return nil, fmt.Errorf("load winning transaction: %w", findErr)
			}
			return uc.replay(span, winner, entities.TransactionType(cmd.Type), amount, cmd)
		}
		return nil, fmt.Errorf("persist pending transaction: %w", err)
	}

	// 4. One provider attempt under the record lock.
	txErr, err := uc.processAttempt(ctx, tx, cmd.Metadata)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt errored")
		return nil, err
	}

	// 5. Route the failure now that the lock is free again.
	if txErr != nil {
		if routeErr := uc.routeFailure(ctx, tx, txErr); routeErr != nil {
			uc.logger.Error("failure routing errored",
				slog.String("transaction_id", tx.ID().String()),
				slog.String("error", routeErr.Error()),
			)
		}
	}

	return &dtos.BeginTransactionResult{
		Transaction: dtos.ToTransactionDTO(tx),
		Replayed:    false,
	}, nil
}

// replay answers an idempotent repeat, or rejects a key reuse with a
// different body.
func (uc *BeginTransactionUseCase) replay(
	span trace.Span,
	existing *entities.Transaction,
	txType entities.TransactionType,
	amount valueobjects.Money,
	cmd dtos.BeginTransactionCommand,
) (*dtos.BeginTransactionResult, error) {
	if !existing.MatchesRequest(txType, amount, cmd.CustomerID, cmd.PaymentMethodID) {
		err := errors.NewTransactionError(
			errors.KindConflict,
			errors.CodeIdempotencyConflict,
			fmt.Sprintf("idempotency key %q was already used with a different request", cmd.IdempotencyKey),
			false, false,
		).WithCause(errors.ErrIdempotencyKeyConflict)
		span.RecordError(err)
		span.SetStatus(codes.Error, "idempotency conflict")
		return nil, err
	}

	span.SetAttributes(attribute.Bool("transaction.replayed", true))
	uc.logger.Info("idempotent begin replayed",
		slog.String("transaction_id", existing.ID().String()),
		slog.String("idempotency_key", cmd.IdempotencyKey),
	)
	return &dtos.BeginTransactionResult{
		Transaction: dtos.ToTransactionDTO(existing),
		Replayed:    true,
	}, nil
}

// processAttempt runs the locked section: PENDING → PROCESSING, the provider
// call, and the terminal persist. It returns the failure still needing
// routing, or nil when the attempt completed.
func (uc *BeginTransactionUseCase) processAttempt(ctx context.Context, tx *entities.Transaction, metadata map[string]interface{}) (*errors.TransactionError, error) {
	key := tx.ID().String()
	token, err := uc.locker.AcquireLock(ctx, key, uc.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire transaction lock: %w", err)
	}
	defer func() {
		if _, err := uc.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			uc.logger.Error("transaction lock release failed",
				slog.String("transaction_id", key),
				slog.String("error", err.Error()),
			)
		}
	}()

	if err := tx.StartProcessing(); err != nil {
		return nil, err
	}
	if err := uc.transactionRepo.Save(ctx, tx); err != nil {
		return nil, fmt.Errorf("save processing transaction: %w", err)
	}

	result, procErr := uc.provider.Process(ctx, ports.ProviderRequest{
		TransactionID:   tx.ID(),
		Type:            tx.Type(),
		Amount:          tx.Amount(),
		CustomerID:      tx.CustomerID(),
		PaymentMethodID: tx.PaymentMethodID(),
		Metadata:        metadata,
	})
	if procErr == nil {
		return nil, uc.complete(ctx, tx, result)
	}

	txErr := errors.AsTransactionError(procErr)
	if txErr == nil {
		txErr = errors.NewSystemError("provider call failed", procErr)
	}
	if err := uc.fail(ctx, tx, txErr); err != nil {
		return nil, err
	}
	return txErr, nil
}

// complete terminalizes a successful attempt.
func (uc *BeginTransactionUseCase) complete(ctx context.Context, tx *entities.Transaction, result *ports.ProviderResult) error {
	err := uc.uow.Execute(ctx, func(txCtx context.Context) error {
		if result != nil {
			tx.MergeMetadata(result.Details)
			if result.ProviderReference != "" {
				tx.SetMetadata("providerReference", result.ProviderReference)
			}
		}
		if err := tx.MarkCompleted(); err != nil {
			return err
		}
		if err := uc.transactionRepo.Save(txCtx, tx); err != nil {
			return fmt.Errorf("save completed transaction: %w", err)
		}
		_, err := uc.emitter.Emit(txCtx, domainevents.EventTypeTransactionCompleted, map[string]interface{}{
			"transactionId": tx.ID().String(),
			"type":          string(tx.Type()),
			"amount":        tx.Amount().Decimal(),
			"currency":      tx.Amount().Currency().Code(),
		})
		return err
	})
	if err != nil {
		return err
	}

	uc.logger.Info("transaction completed",
		slog.String("transaction_id", tx.ID().String()),
		slog.String("amount", tx.Amount().Decimal()),
	)
	return nil
}

// fail records a failed attempt.
func (uc *BeginTransactionUseCase) fail(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) error {
	err := uc.uow.Execute(ctx, func(txCtx context.Context) error {
		if err := tx.MarkFailed(txErr); err != nil {
			return err
		}
		if err := uc.transactionRepo.Save(txCtx, tx); err != nil {
			return fmt.Errorf("save failed transaction: %w", err)
		}
		_, err := uc.emitter.Emit(txCtx, domainevents.EventTypeTransactionFailed, map[string]interface{}{
			"transactionId": tx.ID().String(),
			"type":          string(tx.Type()),
			"amount":        tx.Amount().Decimal(),
			"currency":      tx.Amount().Currency().Code(),
			"errorCode":     txErr.Code,
			"errorMessage":  txErr.Message,
			"retryable":     txErr.Retryable,
			"recoverable":   txErr.Recoverable,
		})
		return err
	})
	if err != nil {
		return err
	}

	uc.logger.Warn("transaction failed",
		slog.String("transaction_id", tx.ID().String()),
		slog.String("error_code", txErr.Code),
		slog.Bool("retryable", txErr.Retryable),
		slog.Bool("recoverable", txErr.Recoverable),
	)
	return nil
}

// routeFailure sends a failed transaction down the right rescue path.
func (uc *BeginTransactionUseCase) routeFailure(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) error {
	switch {
	case txErr.Retryable:
		_, err := uc.retry.ScheduleRetry(ctx, tx, txErr)
		return err
	case txErr.Recoverable:
		return uc.recovery.InitiateRecovery(ctx, tx, txErr)
	default:
		return uc.recovery.MoveToDeadLetter(ctx, tx, txErr)
	}
}
