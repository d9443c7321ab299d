// Package transaction - helper functions for testing
//go:build integration || !integration

package transaction

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	appevents "github.com/payflowhq/payflow/internal/application/events"
	domainErrors "github.com/payflowhq/payflow/internal/domain/errors"
	domainevents "github.com/payflowhq/payflow/internal/domain/events"
	"github.com/payflowhq/payflow/internal/domain/valueobjects"
)

// ============================================
// Recording Event Store
// ============================================

// recordingEventStore is an in-memory ports.EventStore that keeps every saved
// outbox row and groups rows by event type. Use cases are wired against a real
// *appevents.Emitter backed by this store, so tests observe exactly the events
// that would hit the database.
type recordingEventStore struct {
	mu           sync.Mutex
	events       []*domainevents.Event
	eventsByType map[string][]*domainevents.Event

	saveEventFunc func(ctx context.Context, event *domainevents.Event) error
}

func newRecordingEventStore() *recordingEventStore {
	return &recordingEventStore{
		events:       make([]*domainevents.Event, 0),
		eventsByType: make(map[string][]*domainevents.Event),
	}
}

func (s *recordingEventStore) SaveEvent(ctx context.Context, event *domainevents.Event) error {
	if s.saveEventFunc != nil {
		if err := s.saveEventFunc(ctx, event); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.eventsByType[event.Type] = append(s.eventsByType[event.Type], event)
	return nil
}

func (s *recordingEventStore) GetEventByID(ctx context.Context, id uuid.UUID) (*domainevents.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			return ev, nil
		}
	}
	return nil, domainErrors.ErrEventNotFound
}

func (s *recordingEventStore) GetUnprocessedEvents(ctx context.Context, limit int) ([]*domainevents.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domainevents.Event, 0)
	for _, ev := range s.events {
		if !ev.Processed && ev.IsDue(time.Now().UTC()) {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *recordingEventStore) MarkAsProcessed(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			ev.MarkProcessed()
			return nil
		}
	}
	return domainErrors.ErrEventNotFound
}

func (s *recordingEventStore) MarkAsFailed(ctx context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			ev.MarkFailed(message)
			return nil
		}
	}
	return domainErrors.ErrEventNotFound
}

func (s *recordingEventStore) MarkForRetry(ctx context.Context, id uuid.UUID, retryCount int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			ev.MarkForRetry(retryCount, message)
			return nil
		}
	}
	return domainErrors.ErrEventNotFound
}

func (s *recordingEventStore) ResetProcessedFlag(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if ev.ID == id {
			ev.ResetProcessed()
			return nil
		}
	}
	return domainErrors.ErrEventNotFound
}

func (s *recordingEventStore) PruneProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	var pruned int64
	for _, ev := range s.events {
		if ev.Processed && ev.Timestamp.Before(olderThan) {
			pruned++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	return pruned, nil
}

// EventsOfType returns the recorded events of one type, in emission order.
func (s *recordingEventStore) EventsOfType(eventType string) []*domainevents.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*domainevents.Event{}, s.eventsByType[eventType]...)
}

// EventTypes returns the types of all recorded events, in emission order.
func (s *recordingEventStore) EventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		types = append(types, ev.Type)
	}
	return types
}

// AssertEmitted checks that at least one event of the given type was recorded.
func (s *recordingEventStore) AssertEmitted(t *testing.T, eventType string) {
	t.Helper()
	if len(s.EventsOfType(eventType)) == 0 {
		t.Errorf("Expected event type '%s' to be emitted, recorded types: %v", eventType, s.EventTypes())
	}
}

// AssertNotEmitted checks that no event of the given type was recorded.
func (s *recordingEventStore) AssertNotEmitted(t *testing.T, eventType string) {
	t.Helper()
	if n := len(s.EventsOfType(eventType)); n != 0 {
		t.Errorf("Expected no '%s' events, got %d", eventType, n)
	}
}

// AssertEventCount checks the number of recorded events of one type.
func (s *recordingEventStore) AssertEventCount(t *testing.T, eventType string, expectedCount int) {
	t.Helper()
	if n := len(s.EventsOfType(eventType)); n != expectedCount {
		t.Errorf("Expected %d events of type '%s', got %d", expectedCount, eventType, n)
	}
}

// DataOf returns the payload of the first recorded event of the given type.
func (s *recordingEventStore) DataOf(t *testing.T, eventType string) map[string]interface{} {
	t.Helper()
	evts := s.EventsOfType(eventType)
	if len(evts) == 0 {
		t.Fatalf("Expected event type '%s' to be emitted, recorded types: %v", eventType, s.EventTypes())
	}
	return evts[0].Data
}

// newTestEmitter builds a real emitter over a recording store. No handlers are
// registered, so every emitted event is saved and immediately marked processed.
func newTestEmitter() (*appevents.Emitter, *recordingEventStore) {
	store := newRecordingEventStore()
	return appevents.NewEmitter(store, newTestLogger()), store
}

// newTestLogger returns a logger the tests can pass to constructors without
// polluting test output.
func newTestLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ============================================
// Money Fixtures
// ============================================

// mustMoney builds a Money value or fails the test.
func mustMoney(t *testing.T, amount, currencyCode string) valueobjects.Money {
	t.Helper()
	currency, err := valueobjects.NewCurrency(currencyCode)
	if err != nil {
		t.Fatalf("invalid test currency %q: %v", currencyCode, err)
	}
	money, err := valueobjects.NewMoney(amount, currency)
	if err != nil {
		t.Fatalf("invalid test amount %q: %v", amount, err)
	}
	return money
}

// ============================================
// Test Assertion Helpers
// ============================================

// AssertNoError fails the test when err is non-nil.
func AssertNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// AssertError fails the test when err is nil.
func AssertError(t *testing.T, err error, msg string) {
	t.Helper()
	if err == nil {
		t.Fatalf("%s: expected error but got nil", msg)
	}
}

// AssertErrorContains fails the test unless err contains the substring.
func AssertErrorContains(t *testing.T, err error, substr string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing '%s' but got nil", substr)
	}
	if !strings.Contains(err.Error(), substr) {
		t.Fatalf("expected error to contain '%s', got: %v", substr, err)
	}
}

// AssertNotNil fails the test when value is nil.
func AssertNotNil(t *testing.T, value interface{}, msg string) {
	t.Helper()
	if value == nil {
		t.Fatalf("%s: expected non-nil value", msg)
	}
}
