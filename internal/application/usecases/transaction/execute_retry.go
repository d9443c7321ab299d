package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	appevents "github.com/payflowhq/payflow/internal/application/events"
	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/application/retry"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/errors"
	domainevents "github.com/payflowhq/payflow/internal/domain/events"
)

// ExecuteRetryUseCase runs one due retry attempt. The retry queue fires it
// through retry.Manager.OnDue when a scheduled timer lapses.
//
// Flow, all under the per-transaction lock:
//  1. Reload the transaction; anything but RECOVERY_PENDING means the
//     schedule was withdrawn or superseded, so the attempt is dropped.
//  2. Customer limits are re-checked: volumes may have shifted since the
//     original request, and a breach fails the attempt non-retryably.
//  3. RECOVERY_PENDING → RECOVERY_IN_PROGRESS, retry_started emitted.
//  4. One provider attempt, then COMPLETED (completed_after_retry) or
//     FAILED (failed_after_retry).
//
// A failed attempt is routed again after the lock is released, so budget
// accounting and dead-lettering stay in one place.
type ExecuteRetryUseCase struct {
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

// Compile-time check: the use case is the retry manager's executor.
var _ retry.Executor = (*ExecuteRetryUseCase)(nil)

// NewExecuteRetryUseCase creates the use case.
func NewExecuteRetryUseCase(
	transactionRepo ports.TransactionRepository,
	provider ports.PaymentProvider,
	locker ports.RecordLocker,
	limits *LimitsChecker,
	retryScheduler RetryScheduler,
	recovery RecoveryRouter,
	uow ports.UnitOfWork,
	emitter *appevents.Emitter,
	lockTTL time.Duration,
	logger *slog.Logger,
) *ExecuteRetryUseCase {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &ExecuteRetryUseCase{
		transactionRepo: transactionRepo,
		provider:        provider,
		locker:          locker,
		limits:          limits,
		retry:           retryScheduler,
		recovery:        recovery,
		uow:             uow,
		emitter:         emitter,
		logger:          logger,
		tracer:          otel.Tracer("payflow/transactions"),
		lockTTL:         lockTTL,
	}
}

// Execute runs the attempt for the given transaction.
func (uc *ExecuteRetryUseCase) Execute(ctx context.Context, transactionID uuid.UUID) (*entities.Transaction, error) {
	ctx, span := uc.tracer.Start(ctx, "transaction.ExecuteRetry",
		trace.WithAttributes(attribute.String("transaction.id", transactionID.String())))
	defer span.End()

	tx, err := uc.transactionRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("load transaction for retry: %w", err)
	}

	if tx.Status() != entities.TransactionStatusRecoveryPending {
		// Cancelled or raced by another path; nothing to do.
		uc.logger.Info("retry attempt skipped, schedule superseded",
			slog.String("transaction_id", transactionID.String()),
			slog.String("status", string(tx.Status())),
		)
		span.SetAttributes(attribute.Bool("retry.skipped", true))
		return tx, nil
	}

	txErr, err := uc.runAttempt(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attempt errored")
		return nil, err
	}

	if txErr != nil {
		if routeErr := uc.routeFailure(ctx, tx, txErr); routeErr != nil {
			uc.logger.Error("retry failure routing errored",
				slog.String("transaction_id", tx.ID().String()),
				slog.String("error", routeErr.Error()),
			)
		}
	}

	return tx, nil
}

// runAttempt is the locked section. It returns the failure still needing
// routing, or nil when the attempt completed.
func (uc *ExecuteRetryUseCase) runAttempt(ctx context.Context, tx *entities.Transaction) (*errors.TransactionError, error) {
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

	// Volumes may have moved since scheduling; a breach is final.
	if err := uc.limits.CheckTransactionLimits(ctx, tx.CustomerID(), tx.Amount()); err != nil {
		txErr := errors.AsTransactionError(err)
		if txErr == nil {
			return nil, err
		}
		if failErr := uc.failAfterRetry(ctx, tx, txErr); failErr != nil {
			return nil, failErr
		}
		return txErr, nil
	}

	err = uc.uow.Execute(ctx, func(txCtx context.Context) error {
		if err := tx.StartRecoveryAttempt(); err != nil {
			return err
		}
		tx.DeleteMetadata(retry.MetadataNextRetryAt)
		if err := uc.transactionRepo.Save(txCtx, tx); err != nil {
			return fmt.Errorf("save in-progress transaction: %w", err)
		}
		_, err := uc.emitter.Emit(txCtx, domainevents.EventTypeTransactionRetryStarted, map[string]interface{}{
			"transactionId": tx.ID().String(),
			"attempt":       tx.RetryCount(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	result, procErr := uc.provider.Process(ctx, ports.ProviderRequest{
		TransactionID:   tx.ID(),
		Type:            tx.Type(),
		Amount:          tx.Amount(),
		CustomerID:      tx.CustomerID(),
		PaymentMethodID: tx.PaymentMethodID(),
		Metadata:        tx.Metadata(),
	})
	if procErr == nil {
		return nil, uc.completeAfterRetry(ctx, tx, result)
	}

	txErr := errors.AsTransactionError(procErr)
	if txErr == nil {
		txErr = errors.NewSystemError("provider call failed", procErr)
	}
	if err := uc.failAfterRetry(ctx, tx, txErr); err != nil {
		return nil, err
	}
	return txErr, nil
}

// completeAfterRetry terminalizes a successful attempt.
func (uc *ExecuteRetryUseCase) completeAfterRetry(ctx context.Context, tx *entities.Transaction, result *ports.ProviderResult) error {
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
		_, err := uc.emitter.Emit(txCtx, domainevents.EventTypeCompletedAfterRetry, map[string]interface{}{
			"transactionId": tx.ID().String(),
			"type":          string(tx.Type()),
			"attempt":       tx.RetryCount(),
			"amount":        tx.Amount().Decimal(),
			"currency":      tx.Amount().Currency().Code(),
		})
		return err
	})
	if err != nil {
		return err
	}

	uc.logger.Info("transaction completed after retry",
		slog.String("transaction_id", tx.ID().String()),
		slog.Int("attempt", tx.RetryCount()),
	)
	return nil
}

// failAfterRetry records a failed attempt.
func (uc *ExecuteRetryUseCase) failAfterRetry(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) error {
	err := uc.uow.Execute(ctx, func(txCtx context.Context) error {
		if err := tx.MarkFailed(txErr); err != nil {
			return err
		}
		tx.DeleteMetadata(retry.MetadataNextRetryAt)
		if err := uc.transactionRepo.Save(txCtx, tx); err != nil {
			return fmt.Errorf("save failed transaction: %w", err)
		}
		_, err := uc.emitter.Emit(txCtx, domainevents.EventTypeFailedAfterRetry, map[string]interface{}{
			"transactionId": tx.ID().String(),
			"type":          string(tx.Type()),
			"attempt":       tx.RetryCount(),
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

	uc.logger.Warn("transaction failed after retry",
		slog.String("transaction_id", tx.ID().String()),
		slog.Int("attempt", tx.RetryCount()),
		slog.String("error_code", txErr.Code),
	)
	return nil
}

// routeFailure sends the failed attempt down the next rescue path.
func (uc *ExecuteRetryUseCase) routeFailure(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) error {
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
