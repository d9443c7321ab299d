package retry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/application/dtos"
	appevents "github.com/payflowhq/payflow/internal/application/events"
	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/errors"
	domainevents "github.com/payflowhq/payflow/internal/domain/events"
)

// Transaction metadata keys owned by the retry subsystem.
const (
	// MetadataNextRetryAt records when the scheduled attempt fires, as
	// RFC 3339. It is how timers are rebuilt after a restart.
	MetadataNextRetryAt = "nextRetryAt"
	// MetadataRetryCancelled marks transactions whose retry was withdrawn.
	MetadataRetryCancelled = "retryCancelled"
)

// Executor runs one due retry attempt: lock, transition, provider call,
// terminal persist. Implemented by the transaction use-case layer and wired
// after construction because the two sides reference each other.
type Executor interface {
	Execute(ctx context.Context, transactionID uuid.UUID) (*entities.Transaction, error)
}

// RecoveryEscalator takes over transactions whose retry budget is spent.
type RecoveryEscalator interface {
	InitiateRecovery(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) error
}

// Manager owns retry scheduling: it applies the policy, advances the state
// machine to RECOVERY_PENDING, persists the schedule and arms the queue
// timer. Attempt execution is delegated to the Executor when a timer fires.
type Manager struct {
	policy          Policy
	queue           *Queue
	transactionRepo ports.TransactionRepository
	uow             ports.UnitOfWork
	emitter         *appevents.Emitter
	recovery        RecoveryEscalator
	logger          *slog.Logger

	attemptTimeout time.Duration

	mu       sync.RWMutex
	executor Executor
}

// NewManager creates a retry manager and registers it as the queue consumer.
func NewManager(
	policy Policy,
	queue *Queue,
	transactionRepo ports.TransactionRepository,
	uow ports.UnitOfWork,
	emitter *appevents.Emitter,
	recovery RecoveryEscalator,
	logger *slog.Logger,
) *Manager {
	m := &Manager{
		policy:          policy,
		queue:           queue,
		transactionRepo: transactionRepo,
		uow:             uow,
		emitter:         emitter,
		recovery:        recovery,
		logger:          logger,
		attemptTimeout:  30 * time.Second,
	}
	queue.SetConsumer(m.OnDue)
	return m
}

// SetExecutor wires the attempt executor. Called once by the container after
// the transaction use cases exist.
func (m *Manager) SetExecutor(executor Executor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executor = executor
}

// Policy returns the active retry policy.
func (m *Manager) Policy() Policy {
	return m.policy
}

// ScheduleRetry books the next attempt for a failed transaction.
//
// The transaction must sit in FAILED or RECOVERY_PENDING and the error must
// be retryable. The attempt counter is incremented first; when it passes the
// policy budget the transaction is forced FAILED with RETRY_LIMIT_EXCEEDED
// and handed to the recovery manager, which dead-letters it.
func (m *Manager) ScheduleRetry(ctx context.Context, tx *entities.Transaction, txErr *errors.TransactionError) (*entities.Transaction, error) {
	if txErr == nil || !txErr.Retryable {
		return nil, fmt.Errorf("%w: last error is not retryable", errors.ErrRetryNotAllowed)
	}
	status := tx.Status()
	if status != entities.TransactionStatusFailed && status != entities.TransactionStatusRecoveryPending {
		return nil, errors.NewTransactionError(
			errors.KindValidation,
			errors.CodeInvalidState,
			fmt.Sprintf("cannot schedule retry for transaction in state %s", status),
			false, false,
		)
	}

	tx.IncrementRetryCount()
	if tx.RetryCount() > m.policy.MaxAttempts {
		return m.exhaust(ctx, tx, txErr)
	}

	delay := m.policy.Delay(tx.RetryCount())
	nextRetryAt := time.Now().UTC().Add(delay)

	err := m.uow.Execute(ctx, func(txCtx context.Context) error {
		if err := tx.MarkRecoveryPending(); err != nil {
			return err
		}
		tx.SetMetadata(MetadataNextRetryAt, nextRetryAt.Format(time.RFC3339Nano))

		if err := m.transactionRepo.Save(txCtx, tx); err != nil {
			return fmt.Errorf("save scheduled transaction: %w", err)
		}

		_, err := m.emitter.Emit(txCtx, domainevents.EventTypeTransactionRetryScheduled, map[string]interface{}{
			"transactionId": tx.ID().String(),
			"attempt":       tx.RetryCount(),
			"maxAttempts":   m.policy.MaxAttempts,
			"delayMs":       delay.Milliseconds(),
			"nextRetryAt":   nextRetryAt.Format(time.RFC3339Nano),
			"errorCode":     txErr.Code,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	m.queue.Enqueue(tx.ID(), delay)
	m.logger.Info("retry scheduled",
		slog.String("transaction_id", tx.ID().String()),
		slog.Int("attempt", tx.RetryCount()),
		slog.Duration("delay", delay),
	)
	return tx, nil
}

// exhaust terminalizes a transaction that spent its retry budget and
// escalates it to recovery, which routes it to the dead-letter queue.
func (m *Manager) exhaust(ctx context.Context, tx *entities.Transaction, cause *errors.TransactionError) (*entities.Transaction, error) {
	exhausted := errors.NewTransactionError(
		errors.KindConflict,
		errors.CodeRetryLimitExceeded,
		fmt.Sprintf("retry limit of %d attempts exceeded", m.policy.MaxAttempts),
		false, false,
	).WithDetails(map[string]interface{}{
		"attempts":      tx.RetryCount() - 1,
		"lastErrorCode": cause.Code,
	})

	err := m.uow.Execute(ctx, func(txCtx context.Context) error {
		if err := tx.MarkFailed(exhausted); err != nil {
			return err
		}
		tx.DeleteMetadata(MetadataNextRetryAt)

		if err := m.transactionRepo.Save(txCtx, tx); err != nil {
			return fmt.Errorf("save exhausted transaction: %w", err)
		}

		_, err := m.emitter.Emit(txCtx, domainevents.EventTypeRetryExhausted, map[string]interface{}{
			"transactionId": tx.ID().String(),
			"attempts":      tx.RetryCount() - 1,
			"maxAttempts":   m.policy.MaxAttempts,
			"lastErrorCode": cause.Code,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Warn("retry budget exhausted",
		slog.String("transaction_id", tx.ID().String()),
		slog.Int("max_attempts", m.policy.MaxAttempts),
		slog.String("last_error_code", cause.Code),
	)

	if m.recovery != nil {
		if err := m.recovery.InitiateRecovery(ctx, tx, exhausted); err != nil {
			m.logger.Error("recovery escalation failed",
				slog.String("transaction_id", tx.ID().String()),
				slog.String("error", err.Error()),
			)
		}
	}
	return tx, nil
}

// CancelRetry withdraws a scheduled retry. It reports true when either a
// pending timer was removed or the transaction was parked back in FAILED.
func (m *Manager) CancelRetry(ctx context.Context, id uuid.UUID) (bool, error) {
	dequeued := m.queue.Dequeue(id)

	tx, err := m.transactionRepo.FindByID(ctx, id)
	if err != nil {
		return dequeued, err
	}
	if tx.Status() != entities.TransactionStatusRecoveryPending {
		return dequeued, nil
	}

	err = m.uow.Execute(ctx, func(txCtx context.Context) error {
		if err := tx.MarkFailed(tx.Error()); err != nil {
			return err
		}
		tx.SetMetadata(MetadataRetryCancelled, true)
		tx.DeleteMetadata(MetadataNextRetryAt)
		return m.transactionRepo.Save(txCtx, tx)
	})
	if err != nil {
		return dequeued, err
	}

	m.logger.Info("retry cancelled", slog.String("transaction_id", id.String()))
	return true, nil
}

// OnDue is the queue callback: it hands the due transaction to the executor
// under a fresh bounded context.
func (m *Manager) OnDue(id uuid.UUID) {
	m.mu.RLock()
	executor := m.executor
	m.mu.RUnlock()

	if executor == nil {
		m.logger.Error("retry due but no executor wired", slog.String("transaction_id", id.String()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.attemptTimeout)
	defer cancel()

	if _, err := executor.Execute(ctx, id); err != nil {
		m.logger.Error("retry attempt errored",
			slog.String("transaction_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
}

// GetRetryStats reports queue depth and transaction counts per state.
func (m *Manager) GetRetryStats(ctx context.Context) (*dtos.RetryStatsDTO, error) {
	counts, err := m.transactionRepo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count transactions by status: %w", err)
	}

	byStatus := make(map[string]int, len(counts))
	for status, count := range counts {
		byStatus[string(status)] = count
	}

	return &dtos.RetryStatsDTO{
		QueueDepth:      m.queue.Len(),
		CountsByStatus:  byStatus,
		MaxAttempts:     m.policy.MaxAttempts,
		BackoffStrategy: string(m.policy.Backoff),
	}, nil
}

// RebuildQueue re-arms timers from persisted schedules after a restart.
// Overdue attempts fire immediately.
func (m *Manager) RebuildQueue(ctx context.Context) (int, error) {
	transactions, err := m.transactionRepo.FindScheduledRetries(ctx)
	if err != nil {
		return 0, fmt.Errorf("load scheduled retries: %w", err)
	}

	restored := 0
	for _, tx := range transactions {
		raw, ok := tx.MetadataValue(MetadataNextRetryAt)
		if !ok {
			continue
		}
		str, ok := raw.(string)
		if !ok {
			m.logger.Warn("unreadable retry schedule, skipping",
				slog.String("transaction_id", tx.ID().String()))
			continue
		}
		at, err := time.Parse(time.RFC3339Nano, str)
		if err != nil {
			m.logger.Warn("unparseable retry schedule, skipping",
				slog.String("transaction_id", tx.ID().String()),
				slog.String("next_retry_at", str),
			)
			continue
		}

		delay := time.Until(at)
		if delay < 0 {
			delay = 0
		}
		m.queue.Enqueue(tx.ID(), delay)
		restored++
	}

	if restored > 0 {
		m.logger.Info("retry timers rebuilt", slog.Int("count", restored))
	}
	return restored, nil
}
