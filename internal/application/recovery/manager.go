package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
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
)

// RetryScheduler books another attempt for a transaction whose recovery
// produced a retryable failure. Implemented by the retry manager and wired
// after construction because the two managers reference each other.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) (*entities.Transaction, error)
}

// Manager drives recovery: it picks the first applicable strategy, executes
// it under the record lock, and routes what remains to the retry manager or
// the dead-letter queue.
type Manager struct {
	strategies      []Strategy
	transactionRepo ports.TransactionRepository
	deadLetters     ports.DeadLetterRepository
	locker          ports.RecordLocker
	uow             ports.UnitOfWork
	emitter         *appevents.Emitter
	logger          *slog.Logger
	tracer          trace.Tracer
	lockTTL         time.Duration

	mu    sync.RWMutex
	retry RetryScheduler
}

// NewManager creates a recovery manager. Strategies are consulted in the
// given order.
func NewManager(
	strategies []Strategy,
	transactionRepo ports.TransactionRepository,
	deadLetters ports.DeadLetterRepository,
	locker ports.RecordLocker,
	uow ports.UnitOfWork,
	emitter *appevents.Emitter,
	lockTTL time.Duration,
	logger *slog.Logger,
) *Manager {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Manager{
		strategies:      strategies,
		transactionRepo: transactionRepo,
		deadLetters:     deadLetters,
		locker:          locker,
		uow:             uow,
		emitter:         emitter,
		logger:          logger,
		tracer:          otel.Tracer("payflow/recovery"),
		lockTTL:         lockTTL,
	}
}

// SetRetryScheduler wires the retry manager. Called once by the container.
func (m *Manager) SetRetryScheduler(scheduler RetryScheduler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retry = scheduler
}

// InitiateRecovery runs one recovery pass for a failed transaction.
//
// The pass holds the record lock while it transitions the transaction,
// executes the selected strategy and persists the terminal outcome. Routing
// of a failed pass happens after the lock is released: a retryable failure
// goes back to the retry manager, everything else to the dead-letter queue.
func (m *Manager) InitiateRecovery(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) error {
	ctx, span := m.tracer.Start(ctx, "recovery.InitiateRecovery",
		trace.WithAttributes(
			attribute.String("transaction.id", tx.ID().String()),
			attribute.String("error.code", errorCode(txErr)),
		))
	defer span.End()

	if tx.Status().IsFinal() {
		err := errors.NewTransactionError(
			errors.KindConflict,
			errors.CodeStateConflict,
			fmt.Sprintf("transaction %s is already %s", tx.ID(), tx.Status()),
			false, false,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction terminal")
		return err
	}

	failure, err := m.runRecoveryAttempt(ctx, span, tx, txErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recovery attempt errored")
		return err
	}
	if failure == nil {
		return nil
	}

	if failure.Retryable {
		m.mu.RLock()
		scheduler := m.retry
		m.mu.RUnlock()
		if scheduler != nil {
			_, err := scheduler.ScheduleRetry(ctx, tx, failure)
			return err
		}
	}
	return m.MoveToDeadLetter(ctx, tx, failure)
}

// runRecoveryAttempt is the locked section of a recovery pass. It returns
// the failure still needing routing, or nil when the transaction recovered.
func (m *Manager) runRecoveryAttempt(ctx context.Context, span trace.Span, tx *entities.Transaction, txErr *errors.TransactionError) (*errors.TransactionError, error) {
	key := tx.ID().String()
	token, err := m.locker.AcquireLock(ctx, key, m.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire recovery lock: %w", err)
	}
	defer func() {
		if _, err := m.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			m.logger.Error("recovery lock release failed",
				slog.String("transaction_id", key),
				slog.String("error", err.Error()),
			)
		}
	}()

	err = m.uow.Execute(ctx, func(txCtx context.Context) error {
		if _, err := m.emitter.Emit(txCtx, domainevents.EventTypeRecoveryStarted, map[string]interface{}{
			"transactionId": tx.ID().String(),
			"errorCode":     errorCode(txErr),
			"errorMessage":  errorMessage(txErr),
		}); err != nil {
			return err
		}
		if err := tx.MarkRecoveryPending(); err != nil {
			return err
		}
		if err := tx.StartRecoveryAttempt(); err != nil {
			return err
		}
		return m.transactionRepo.Save(txCtx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("start recovery attempt: %w", err)
	}

	strategy := m.strategyFor(txErr)
	if strategy == nil {
		span.SetAttributes(attribute.Bool("recovery.strategy_found", false))
		m.logger.Warn("no recovery strategy applies",
			slog.String("transaction_id", tx.ID().String()),
			slog.String("error_code", errorCode(txErr)),
		)
		if err := m.parkFailed(ctx, tx, txErr); err != nil {
			return nil, err
		}
		return txErr, nil
	}
	span.SetAttributes(attribute.String("recovery.strategy", strategy.Name()))

	result, execErr := strategy.Execute(ctx, tx)
	if execErr == nil {
		return nil, m.completeRecovery(ctx, tx, strategy.Name(), result)
	}

	nextErr := errors.AsTransactionError(execErr)
	if nextErr == nil {
		nextErr = errors.NewSystemError("recovery strategy failed", execErr)
	}
	m.logger.Warn("recovery strategy failed",
		slog.String("transaction_id", tx.ID().String()),
		slog.String("strategy", strategy.Name()),
		slog.String("error", execErr.Error()),
	)
	if err := m.parkFailed(ctx, tx, nextErr); err != nil {
		return nil, err
	}
	return nextErr, nil
}

// completeRecovery terminalizes a rescued transaction.
func (m *Manager) completeRecovery(ctx context.Context, tx *entities.Transaction, strategyName string, result *Result) error {
	err := m.uow.Execute(ctx, func(txCtx context.Context) error {
		if result != nil {
			tx.MergeMetadata(result.Data)
		}
		if err := tx.MarkCompleted(); err != nil {
			return err
		}
		if err := m.transactionRepo.Save(txCtx, tx); err != nil {
			return fmt.Errorf("save recovered transaction: %w", err)
		}
		_, err := m.emitter.Emit(txCtx, domainevents.EventTypeRecoveryCompleted, map[string]interface{}{
			"transactionId": tx.ID().String(),
			"strategy":      strategyName,
		})
		return err
	})
	if err != nil {
		return err
	}

	m.logger.Info("transaction recovered",
		slog.String("transaction_id", tx.ID().String()),
		slog.String("strategy", strategyName),
	)
	return nil
}

// parkFailed persists the transaction as FAILED with the given error.
func (m *Manager) parkFailed(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) error {
	return m.uow.Execute(ctx, func(txCtx context.Context) error {
		if err := tx.MarkFailed(txErr); err != nil {
			return err
		}
		return m.transactionRepo.Save(txCtx, tx)
	})
}

// MoveToDeadLetter enqueues a FAILED transaction nothing could rescue. It is
// also the terminal route for failures that are neither retryable nor
// recoverable, so the transaction use cases call it directly.
func (m *Manager) MoveToDeadLetter(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) error {
	entry, err := entities.NewDeadLetterEntry(tx.ID(), txErr)
	if err != nil {
		return err
	}

	err = m.uow.Execute(ctx, func(txCtx context.Context) error {
		if err := m.deadLetters.Enqueue(txCtx, entry); err != nil {
			return fmt.Errorf("enqueue dead letter: %w", err)
		}
		_, err := m.emitter.Emit(txCtx, domainevents.EventTypeMovedToDeadLetter, map[string]interface{}{
			"transactionId": tx.ID().String(),
			"errorCode":     errorCode(txErr),
			"errorMessage":  errorMessage(txErr),
		})
		return err
	})
	if err != nil {
		return err
	}

	m.logger.Warn("transaction moved to dead-letter queue",
		slog.String("transaction_id", tx.ID().String()),
		slog.String("error_code", errorCode(txErr)),
	)
	return nil
}

// ReprocessFromDeadLetter pulls a transaction out of the queue, resets its
// attempt counter and runs a fresh recovery pass against the stored error.
func (m *Manager) ReprocessFromDeadLetter(ctx context.Context, transactionID uuid.UUID) (*entities.Transaction, error) {
	ctx, span := m.tracer.Start(ctx, "recovery.ReprocessFromDeadLetter",
		trace.WithAttributes(attribute.String("transaction.id", transactionID.String())))
	defer span.End()

	entry, err := m.deadLetters.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	tx, err := m.transactionRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	err = m.uow.Execute(ctx, func(txCtx context.Context) error {
		if err := m.deadLetters.Remove(txCtx, transactionID); err != nil {
			return fmt.Errorf("remove dead letter: %w", err)
		}
		tx.ResetRetryCount()
		if err := m.transactionRepo.Save(txCtx, tx); err != nil {
			return fmt.Errorf("save reprocessed transaction: %w", err)
		}
		_, err := m.emitter.Emit(txCtx, domainevents.EventTypeReprocessing, map[string]interface{}{
			"transactionId": tx.ID().String(),
			"errorCode":     errorCode(entry.Error()),
			"enqueuedAt":    entry.EnqueuedAt().Format(time.RFC3339Nano),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := m.InitiateRecovery(ctx, tx, entry.Error()); err != nil {
		return tx, err
	}
	return tx, nil
}

// GetDeadLetterQueueStats summarizes queue contents by error code.
func (m *Manager) GetDeadLetterQueueStats(ctx context.Context) (*dtos.DeadLetterStatsDTO, error) {
	stats, err := m.deadLetters.CountByErrorCode(ctx)
	if err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}
	dto := dtos.ToDeadLetterStatsDTO(stats)
	return &dto, nil
}

func (m *Manager) strategyFor(txErr *errors.TransactionError) Strategy {
	for _, strategy := range m.strategies {
		if strategy.CanHandle(txErr) {
			return strategy
		}
	}
	return nil
}

func errorCode(txErr *errors.TransactionError) string {
	if txErr == nil {
		return errors.CodeSystemError
	}
	return txErr.Code
}

func errorMessage(txErr *errors.TransactionError) string {
	if txErr == nil {
		return "unknown failure"
	}
	return txErr.Message
}
