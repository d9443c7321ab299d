package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestBaseEvent tests base event identity fields
func TestBaseEvent(t *testing.T) {
	aggregateID := uuid.New()
	event := newBaseEvent("test.event", aggregateID)

	if event.EventID() == uuid.Nil {
		t.Error("EventID should not be nil")
	}

	if event.EventType() != "test.event" {
		t.Errorf("EventType = %q, want %q", event.EventType(), "test.event")
	}

	if event.AggregateID() != aggregateID {
		t.Errorf("AggregateID = %v, want %v", event.AggregateID(), aggregateID)
	}

	if event.OccurredAt().IsZero() {
		t.Error("OccurredAt should be set")
	}

	if time.Since(event.OccurredAt()) > 1*time.Second {
		t.Error("OccurredAt should be recent")
	}
}

// TestNewTransactionEvent tests transaction event creation
func TestNewTransactionEvent(t *testing.T) {
	transactionID := uuid.New()
	payload := map[string]interface{}{
		"amount":   "100.50",
		"currency": "USD",
	}

	event := NewTransactionEvent(EventTypeTransactionCreated, transactionID, payload)

	if event.EventType() != EventTypeTransactionCreated {
		t.Errorf("EventType = %q, want %q", event.EventType(), EventTypeTransactionCreated)
	}

	if event.AggregateID() != transactionID {
		t.Errorf("AggregateID = %v, want %v", event.AggregateID(), transactionID)
	}

	got := event.Payload()
	if got["amount"] != "100.50" {
		t.Errorf("Payload amount = %v, want 100.50", got["amount"])
	}

	if got["transactionId"] != transactionID.String() {
		t.Errorf("Payload transactionId = %v, want %s", got["transactionId"], transactionID)
	}

	// The payload is copied on construction.
	payload["amount"] = "tampered"
	if event.Payload()["amount"] != "100.50" {
		t.Error("Payload should not alias the input map")
	}
}

// TestNewTransactionEvent_NilPayload tests creation without payload fields
func TestNewTransactionEvent_NilPayload(t *testing.T) {
	transactionID := uuid.New()

	event := NewTransactionEvent(EventTypeTransactionCompleted, transactionID, nil)

	got := event.Payload()
	if len(got) != 1 {
		t.Fatalf("Payload size = %d, want 1", len(got))
	}
	if got["transactionId"] != transactionID.String() {
		t.Errorf("Payload transactionId = %v, want %s", got["transactionId"], transactionID)
	}
}

// TestNewEvent tests building an outbox row from a domain event
func TestNewEvent(t *testing.T) {
	transactionID := uuid.New()
	domainEvent := NewTransactionEvent(EventTypeTransactionFailed, transactionID, map[string]interface{}{
		"errorCode": "PROVIDER_TIMEOUT",
	})

	row := NewEvent(domainEvent)

	if row.ID != domainEvent.EventID() {
		t.Errorf("ID = %v, want %v", row.ID, domainEvent.EventID())
	}

	if row.Type != EventTypeTransactionFailed {
		t.Errorf("Type = %q, want %q", row.Type, EventTypeTransactionFailed)
	}

	if row.Data["errorCode"] != "PROVIDER_TIMEOUT" {
		t.Errorf("Data errorCode = %v, want PROVIDER_TIMEOUT", row.Data["errorCode"])
	}

	if !row.Timestamp.Equal(domainEvent.OccurredAt()) {
		t.Errorf("Timestamp = %v, want %v", row.Timestamp, domainEvent.OccurredAt())
	}

	if row.Processed {
		t.Error("New row should not be processed")
	}

	if row.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", row.RetryCount)
	}
}

// TestNewRawEvent tests building an outbox row from a bare type and payload
func TestNewRawEvent(t *testing.T) {
	row := NewRawEvent(EventTypeRetryExhausted, map[string]interface{}{"attempts": 3})

	if row.ID == uuid.Nil {
		t.Error("ID should not be nil")
	}

	if row.Type != EventTypeRetryExhausted {
		t.Errorf("Type = %q, want %q", row.Type, EventTypeRetryExhausted)
	}

	if row.Data["attempts"] != 3 {
		t.Errorf("Data attempts = %v, want 3", row.Data["attempts"])
	}

	if row.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

// TestNewRawEvent_NilData tests that a nil payload becomes an empty map
func TestNewRawEvent_NilData(t *testing.T) {
	row := NewRawEvent(EventTypeTransactionCreated, nil)

	if row.Data == nil {
		t.Error("Data should not be nil")
	}

	if len(row.Data) != 0 {
		t.Errorf("Data size = %d, want 0", len(row.Data))
	}
}

// TestEvent_MarkProcessed tests the delivered state
func TestEvent_MarkProcessed(t *testing.T) {
	row := NewRawEvent(EventTypeTransactionCreated, nil)
	row.MarkForRetry(2, "transient")

	row.MarkProcessed()

	if !row.Processed {
		t.Error("Processed should be true")
	}
	if row.Error != nil {
		t.Errorf("Error = %v, want nil", *row.Error)
	}
	if row.NextRetryAt != nil {
		t.Errorf("NextRetryAt = %v, want nil", row.NextRetryAt)
	}
}

// TestEvent_MarkFailed tests the permanently failed state
func TestEvent_MarkFailed(t *testing.T) {
	row := NewRawEvent(EventTypeTransactionFailed, nil)

	row.MarkFailed("handler rejected payload")

	if !row.Processed {
		t.Error("Processed should be true for a closed-out row")
	}
	if row.Error == nil || *row.Error != "handler rejected payload" {
		t.Errorf("Error = %v, want the failure message", row.Error)
	}
	if row.NextRetryAt != nil {
		t.Errorf("NextRetryAt = %v, want nil", row.NextRetryAt)
	}
}

// TestEvent_MarkForRetry tests redelivery scheduling
func TestEvent_MarkForRetry(t *testing.T) {
	row := NewRawEvent(EventTypeTransactionFailed, nil)

	row.MarkForRetry(2, "consumer offline")

	if row.Processed {
		t.Error("Processed should stay false")
	}
	if row.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", row.RetryCount)
	}
	if row.Error == nil || *row.Error != "consumer offline" {
		t.Errorf("Error = %v, want the failure message", row.Error)
	}
	if row.NextRetryAt == nil {
		t.Fatal("NextRetryAt should be set")
	}

	wait := time.Until(*row.NextRetryAt)
	if wait <= 0 || wait > 3*time.Second {
		t.Errorf("NextRetryAt %s out, want about 2s", wait)
	}
}

// TestEvent_ResetProcessed tests making a row dispatchable again
func TestEvent_ResetProcessed(t *testing.T) {
	row := NewRawEvent(EventTypeTransactionCompleted, nil)
	row.MarkFailed("poison payload")

	row.ResetProcessed()

	if row.Processed {
		t.Error("Processed should be false")
	}
	if row.Error != nil {
		t.Errorf("Error = %v, want nil", *row.Error)
	}
	if row.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0", row.RetryCount)
	}
	if row.NextRetryAt != nil {
		t.Errorf("NextRetryAt = %v, want nil", row.NextRetryAt)
	}
}

// TestEvent_IsDue tests dispatchability
func TestEvent_IsDue(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name     string
		mutate   func(*Event)
		expected bool
	}{
		{"fresh row", func(e *Event) {}, true},
		{"retry window elapsed", func(e *Event) { e.NextRetryAt = &past }, true},
		{"retry window pending", func(e *Event) { e.NextRetryAt = &future }, false},
		{"already delivered", func(e *Event) { e.MarkProcessed() }, false},
		{"permanently failed", func(e *Event) { e.MarkFailed("x") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := NewRawEvent(EventTypeTransactionCreated, nil)
			tt.mutate(row)
			if got := row.IsDue(now); got != tt.expected {
				t.Errorf("IsDue() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestRetryBackoff tests the redelivery backoff curve
func TestRetryBackoff(t *testing.T) {
	tests := []struct {
		name       string
		retryCount int
		expected   time.Duration
	}{
		{"first retry", 1, time.Second},
		{"second retry", 2, 2 * time.Second},
		{"third retry", 3, 4 * time.Second},
		{"sixth retry", 6, 32 * time.Second},
		{"seventh retry capped", 7, 60 * time.Second},
		{"zero floors to one", 0, time.Second},
		{"negative floors to one", -4, time.Second},
		{"huge count capped", 40, 60 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RetryBackoff(tt.retryCount); got != tt.expected {
				t.Errorf("RetryBackoff(%d) = %v, want %v", tt.retryCount, got, tt.expected)
			}
		})
	}
}

// TestEvent_DataJSON tests payload serialization
func TestEvent_DataJSON(t *testing.T) {
	row := NewRawEvent(EventTypeTransactionCreated, map[string]interface{}{
		"transactionId": "tx-1",
		"amount":        "99.99",
	})

	data, err := row.DataJSON()
	if err != nil {
		t.Fatalf("DataJSON() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if decoded["amount"] != "99.99" {
		t.Errorf("amount = %v, want 99.99", decoded["amount"])
	}
}

// TestEvent_DataJSON_NilData tests serialization of an empty payload
func TestEvent_DataJSON_NilData(t *testing.T) {
	row := &Event{ID: uuid.New(), Type: EventTypeTransactionCreated}

	data, err := row.DataJSON()
	if err != nil {
		t.Fatalf("DataJSON() error = %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("DataJSON() = %s, want {}", data)
	}
}
