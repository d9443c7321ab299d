// Package postgres - EventRepository backing the transactional outbox.
//
// Outbox flow:
//  1. The same database transaction that mutates a payment appends the
//     event row, so the record and its event commit or roll back together.
//  2. The event processor drains unprocessed rows and delivers them to the
//     registered handlers.
//  3. Delivery failures reschedule the row with exponential backoff until
//     the retry budget runs out, then the row is parked with its last error.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/payflowhq/payflow/internal/application/ports"
	domainErrors "github.com/payflowhq/payflow/internal/domain/errors"
	"github.com/payflowhq/payflow/internal/domain/events"
)

// Compile-time check
var _ ports.EventStore = (*EventRepository)(nil)

// eventColumns is the shared SELECT list, in scan order.
const eventColumns = `id, type, data, processed, error, retry_count, next_retry_at, timestamp`

// EventRepository implements ports.EventStore.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates an EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// getQuerier returns the context transaction when present, the pool otherwise.
func (r *EventRepository) getQuerier(ctx context.Context) querier {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return r.pool
}

// SaveEvent appends an outbox row. Call it inside the same UnitOfWork as the
// business mutation that produced the event.
func (r *EventRepository) SaveEvent(ctx context.Context, event *events.Event) error {
	q := r.getQuerier(ctx)

	data, err := event.DataJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize event payload: %w", err)
	}

	query := `
		INSERT INTO events (
			id, type, data, processed, error, retry_count, next_retry_at, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = q.Exec(ctx, query,
		event.ID,
		event.Type,
		data,
		event.Processed,
		event.Error,
		event.RetryCount,
		event.NextRetryAt,
		event.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	return nil
}

// GetEventByID loads one outbox row.
func (r *EventRepository) GetEventByID(ctx context.Context, id uuid.UUID) (*events.Event, error) {
	q := r.getQuerier(ctx)

	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE id = $1
	`

	event, err := scanEvent(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrEventNotFound
		}
		return nil, err
	}

	return event, nil
}

// GetUnprocessedEvents returns up to limit dispatchable rows, oldest first.
// FOR UPDATE SKIP LOCKED lets concurrent processors drain disjoint batches.
func (r *EventRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*events.Event, error) {
	q := r.getQuerier(ctx)

	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE processed = FALSE
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY timestamp ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find unprocessed events: %w", err)
	}
	defer rows.Close()

	var result []*events.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return result, nil
}

// MarkAsProcessed flags successful delivery.
func (r *EventRepository) MarkAsProcessed(ctx context.Context, id uuid.UUID) error {
	q := r.getQuerier(ctx)

	query := `
		UPDATE events
		SET processed = TRUE, error = NULL, next_retry_at = NULL
		WHERE id = $1
	`

	result, err := q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domainErrors.ErrEventNotFound
	}

	return nil
}

// MarkAsFailed parks the row permanently with its final error. The processed
// flag goes up so the row never dispatches again, the error column keeps it
// distinguishable from delivered rows.
func (r *EventRepository) MarkAsFailed(ctx context.Context, id uuid.UUID, message string) error {
	q := r.getQuerier(ctx)

	query := `
		UPDATE events
		SET processed = TRUE, error = $2, next_retry_at = NULL
		WHERE id = $1
	`

	result, err := q.Exec(ctx, query, id, message)
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domainErrors.ErrEventNotFound
	}

	return nil
}

// MarkForRetry records a failed delivery attempt and schedules the next one
// with exponential backoff computed from the attempt count.
func (r *EventRepository) MarkForRetry(ctx context.Context, id uuid.UUID, retryCount int, message string) error {
	q := r.getQuerier(ctx)

	nextRetryAt := time.Now().UTC().Add(events.RetryBackoff(retryCount))

	query := `
		UPDATE events
		SET processed = FALSE,
			retry_count = $2,
			error = $3,
			next_retry_at = $4
		WHERE id = $1
	`

	result, err := q.Exec(ctx, query, id, retryCount, message, nextRetryAt)
	if err != nil {
		return fmt.Errorf("failed to mark event for retry: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domainErrors.ErrEventNotFound
	}

	return nil
}

// ResetProcessedFlag makes a delivered or failed row dispatchable again.
// Used when replaying events.
func (r *EventRepository) ResetProcessedFlag(ctx context.Context, id uuid.UUID) error {
	q := r.getQuerier(ctx)

	query := `
		UPDATE events
		SET processed = FALSE, error = NULL, retry_count = 0, next_retry_at = NULL
		WHERE id = $1
	`

	result, err := q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to reset event processed flag: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domainErrors.ErrEventNotFound
	}

	return nil
}

// PruneProcessedEvents deletes delivered rows older than the cutoff. Rows
// parked with an error stay for inspection.
func (r *EventRepository) PruneProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	q := r.getQuerier(ctx)

	query := `
		DELETE FROM events
		WHERE processed = TRUE AND error IS NULL AND timestamp < $1
	`

	result, err := q.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune processed events: %w", err)
	}

	return result.RowsAffected(), nil
}

// scanEvent reads one row into an outbox Event.
func scanEvent(row pgx.Row) (*events.Event, error) {
	var (
		id          uuid.UUID
		eventType   string
		data        []byte
		processed   bool
		errMsg      *string
		retryCount  int
		nextRetryAt *time.Time
		timestamp   time.Time
	)

	if err := row.Scan(&id, &eventType, &data, &processed, &errMsg, &retryCount, &nextRetryAt, &timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	payload := make(map[string]interface{})
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("failed to deserialize event payload: %w", err)
		}
	}

	return &events.Event{
		ID:          id,
		Type:        eventType,
		Data:        payload,
		Timestamp:   timestamp,
		Processed:   processed,
		Error:       errMsg,
		RetryCount:  retryCount,
		NextRetryAt: nextRetryAt,
	}, nil
}
