package transaction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/payflowhq/payflow/internal/application/dtos"
	appevents "github.com/payflowhq/payflow/internal/application/events"
	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/domain/entities"
	"github.com/payflowhq/payflow/internal/domain/errors"
	domainevents "github.com/payflowhq/payflow/internal/domain/events"
)

// UpdateStatusUseCase applies an operator- or webhook-driven status change.
// The state graph decides legality; the per-transaction lock serializes
// concurrent updates so the loser observes a state conflict instead of
// clobbering the winner.
type UpdateStatusUseCase struct {
	transactionRepo ports.TransactionRepository
	locker          ports.RecordLocker
	uow             ports.UnitOfWork
	emitter         *appevents.Emitter
	logger          *slog.Logger
	tracer          trace.Tracer
	lockTTL         time.Duration
}

// NewUpdateStatusUseCase creates the use case.
func NewUpdateStatusUseCase(
	transactionRepo ports.TransactionRepository,
	locker ports.RecordLocker,
	uow ports.UnitOfWork,
	emitter *appevents.Emitter,
	lockTTL time.Duration,
	logger *slog.Logger,
) *UpdateStatusUseCase {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &UpdateStatusUseCase{
		transactionRepo: transactionRepo,
		locker:          locker,
		uow:             uow,
		emitter:         emitter,
		logger:          logger,
		tracer:          otel.Tracer("payflow/transactions"),
		lockTTL:         lockTTL,
	}
}

// Execute moves the transaction to the requested status.
func (uc *UpdateStatusUseCase) Execute(ctx context.Context, cmd dtos.UpdateTransactionStatusCommand) (*dtos.TransactionDTO, error) {
	id, err := uuid.Parse(cmd.TransactionID)
	if err != nil {
		return nil, errors.ValidationError{Field: "transactionId", Message: "must be a UUID"}
	}
	next := entities.TransactionStatus(cmd.Status)

	ctx, span := uc.tracer.Start(ctx, "transaction.UpdateStatus",
		trace.WithAttributes(
			attribute.String("transaction.id", id.String()),
			attribute.String("transaction.next_status", cmd.Status),
		))
	defer span.End()

	key := id.String()
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

	// Reload under the lock so the transition starts from current state.
	tx, err := uc.transactionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := tx.Status()

	err = uc.uow.Execute(ctx, func(txCtx context.Context) error {
		if err := tx.ApplyStatus(next); err != nil {
			return err
		}
		if len(cmd.Metadata) > 0 {
			tx.MergeMetadata(cmd.Metadata)
		}
		if err := uc.transactionRepo.Save(txCtx, tx); err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}
		return uc.emitTransition(txCtx, tx, previous)
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("transaction status updated",
		slog.String("transaction_id", id.String()),
		slog.String("from", string(previous)),
		slog.String("to", string(next)),
	)

	dto := dtos.ToTransactionDTO(tx)
	return &dto, nil
}

// emitTransition announces transitions that carry lifecycle meaning.
// Intermediate moves (e.g. PENDING → PROCESSING) stay silent.
func (uc *UpdateStatusUseCase) emitTransition(ctx context.Context, tx *entities.Transaction, previous entities.TransactionStatus) error {
	var eventType string
	switch tx.Status() {
	case entities.TransactionStatusCompleted:
		eventType = domainevents.EventTypeTransactionCompleted
	case entities.TransactionStatusFailed, entities.TransactionStatusRolledBack:
		eventType = domainevents.EventTypeTransactionFailed
	default:
		return nil
	}

	_, err := uc.emitter.Emit(ctx, eventType, map[string]interface{}{
		"transactionId":  tx.ID().String(),
		"previousStatus": string(previous),
		"status":         string(tx.Status()),
		"source":         "status_update",
	})
	return err
}
