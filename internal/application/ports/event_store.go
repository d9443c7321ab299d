package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/domain/events"
)

// EventStore is the durable outbox. Rows are appended in the same database
// transaction as the business mutation that caused them, then drained by the
// event processor.
type EventStore interface {
	// SaveEvent appends an outbox row.
	SaveEvent(ctx context.Context, event *events.Event) error

	// GetEventByID loads one row; ErrEventNotFound when absent.
	GetEventByID(ctx context.Context, id uuid.UUID) (*events.Event, error)

	// GetUnprocessedEvents returns up to limit dispatchable rows, oldest
	// first. A row is dispatchable when processed=false and nextRetryAt is
	// unset or has passed.
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*events.Event, error)

	// MarkAsProcessed flags successful delivery.
	MarkAsProcessed(ctx context.Context, id uuid.UUID) error

	// MarkAsFailed flags permanent delivery failure with the final error.
	MarkAsFailed(ctx context.Context, id uuid.UUID, message string) error

	// MarkForRetry records a failed attempt and schedules redelivery with
	// exponential backoff computed from retryCount.
	MarkForRetry(ctx context.Context, id uuid.UUID, retryCount int, message string) error

	// ResetProcessedFlag makes a delivered or failed row dispatchable again.
	ResetProcessedFlag(ctx context.Context, id uuid.UUID) error

	// PruneProcessedEvents deletes successfully delivered rows older than the
	// cutoff and reports how many were removed. Failed rows are kept for
	// inspection.
	PruneProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error)
}
