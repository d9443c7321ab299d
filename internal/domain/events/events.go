// Package events defines the domain events raised by the transaction engine
// and the durable outbox record they are persisted as. Events are immutable
// facts; the outbox row tracks their delivery state.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event type constants. The dotted names are the wire contract consumed by
// in-process handlers and downstream subscribers.
const (
	EventTypeTransactionCreated        = "transaction.created"
	EventTypeTransactionCompleted      = "transaction.completed"
	EventTypeTransactionFailed         = "transaction.failed"
	EventTypeTransactionRetryScheduled = "transaction.retry_scheduled"
	EventTypeTransactionRetryStarted   = "transaction.retry_started"
	EventTypeCompletedAfterRetry       = "transaction.completed_after_retry"
	EventTypeFailedAfterRetry          = "transaction.failed_after_retry"
	EventTypeRecoveryStarted           = "transaction.recovery_started"
	EventTypeRecoveryCompleted         = "transaction.recovery_completed"
	EventTypeMovedToDeadLetter         = "transaction.moved_to_dlq"
	EventTypeReprocessing              = "transaction.reprocessing"
	EventTypeRetryExhausted            = "transaction.retry_exhausted"
)

// DomainEvent is the base interface for all domain events.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	Payload() map[string]interface{}
}

// BaseEvent provides the common identity fields, embedded by concrete events.
type BaseEvent struct {
	eventID     uuid.UUID
	eventType   string
	occurredAt  time.Time
	aggregateID uuid.UUID
}

func newBaseEvent(eventType string, aggregateID uuid.UUID) BaseEvent {
	return BaseEvent{
		eventID:     uuid.New(),
		eventType:   eventType,
		occurredAt:  time.Now().UTC(),
		aggregateID: aggregateID,
	}
}

func (e BaseEvent) EventID() uuid.UUID     { return e.eventID }
func (e BaseEvent) EventType() string      { return e.eventType }
func (e BaseEvent) OccurredAt() time.Time  { return e.occurredAt }
func (e BaseEvent) AggregateID() uuid.UUID { return e.aggregateID }

// TransactionEvent is a domain event raised about a single transaction. The
// payload carries the event-specific fields and always includes the
// transaction id.
type TransactionEvent struct {
	BaseEvent
	payload map[string]interface{}
}

// NewTransactionEvent creates an event of the given type about transactionID.
// The payload map is copied; "transactionId" is always present.
func NewTransactionEvent(eventType string, transactionID uuid.UUID, payload map[string]interface{}) *TransactionEvent {
	copied := make(map[string]interface{}, len(payload)+1)
	for k, v := range payload {
		copied[k] = v
	}
	copied["transactionId"] = transactionID.String()
	return &TransactionEvent{
		BaseEvent: newBaseEvent(eventType, transactionID),
		payload:   copied,
	}
}

// Payload returns the event payload.
func (e *TransactionEvent) Payload() map[string]interface{} {
	return e.payload
}

// Outbox retry backoff: 1s, 2s, 4s, ... capped at 60s.
const (
	outboxInitialBackoff = time.Second
	outboxMaxBackoff     = 60 * time.Second
)

// RetryBackoff returns the delay before the retryCount-th redelivery attempt.
func RetryBackoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	shift := uint(retryCount - 1)
	if shift > 10 {
		return outboxMaxBackoff
	}
	delay := outboxInitialBackoff << shift
	if delay > outboxMaxBackoff {
		return outboxMaxBackoff
	}
	return delay
}

// Event is the durable outbox row.
//
// processed=true with no error means delivered; processed=true with an error
// means permanently failed; processed=false with nextRetryAt at or before now
// means dispatchable.
type Event struct {
	ID          uuid.UUID
	Type        string
	Data        map[string]interface{}
	Timestamp   time.Time
	Processed   bool
	Error       *string
	RetryCount  int
	NextRetryAt *time.Time
}

// NewEvent creates an unprocessed outbox row for a domain event.
func NewEvent(domainEvent DomainEvent) *Event {
	return &Event{
		ID:        domainEvent.EventID(),
		Type:      domainEvent.EventType(),
		Data:      domainEvent.Payload(),
		Timestamp: domainEvent.OccurredAt(),
	}
}

// NewRawEvent creates an unprocessed outbox row from a bare type and payload.
func NewRawEvent(eventType string, data map[string]interface{}) *Event {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// MarkProcessed flags successful delivery.
func (e *Event) MarkProcessed() {
	e.Processed = true
	e.Error = nil
	e.NextRetryAt = nil
}

// MarkFailed flags permanent delivery failure.
func (e *Event) MarkFailed(message string) {
	e.Processed = true
	e.Error = &message
	e.NextRetryAt = nil
}

// MarkForRetry records a failed attempt and schedules redelivery with
// exponential backoff from the attempt count.
func (e *Event) MarkForRetry(retryCount int, message string) {
	next := time.Now().UTC().Add(RetryBackoff(retryCount))
	e.Processed = false
	e.RetryCount = retryCount
	e.Error = &message
	e.NextRetryAt = &next
}

// ResetProcessed makes a delivered or failed event dispatchable again.
func (e *Event) ResetProcessed() {
	e.Processed = false
	e.Error = nil
	e.RetryCount = 0
	e.NextRetryAt = nil
}

// IsDue reports whether the event is dispatchable at the given instant.
func (e *Event) IsDue(now time.Time) bool {
	if e.Processed {
		return false
	}
	return e.NextRetryAt == nil || !e.NextRetryAt.After(now)
}

// DataJSON serializes the payload for persistence.
func (e *Event) DataJSON() ([]byte, error) {
	if e.Data == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	return data, nil
}
