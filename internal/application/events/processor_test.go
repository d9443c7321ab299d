package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domainevents "github.com/payflowhq/payflow/internal/domain/events"
)

// lockJanitorStub counts purge passes.
type lockJanitorStub struct {
	mu     sync.Mutex
	purges int
	purged int64
}

func (s *lockJanitorStub) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "stub-token", nil
}

func (s *lockJanitorStub) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	return true, nil
}

func (s *lockJanitorStub) PurgeExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purges++
	return s.purged, nil
}

func (s *lockJanitorStub) purgeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purges
}

func newProcessorForTest(store *fakeStore, emitter *Emitter, cfg ProcessorConfig) *Processor {
	return NewProcessor(store, emitter, nil, testLogger(), cfg)
}

func TestProcessBatch_DeliversDueEvents(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := &fakeStore{}
	emitter := NewEmitter(store, testLogger())
	handler := &handlerRecorder{}
	emitter.On("transaction.retry_scheduled", handler.handle)

	store.add(domainevents.NewRawEvent("transaction.retry_scheduled", map[string]interface{}{"transactionId": "tx-1"}))
	store.add(domainevents.NewRawEvent("transaction.retry_scheduled", map[string]interface{}{"transactionId": "tx-2"}))

	processor := newProcessorForTest(store, emitter, ProcessorConfig{})

	// Act
	handled, err := processor.ProcessBatch(ctx)

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if handled != 2 {
		t.Errorf("Expected 2 events handled, got %d", handled)
	}
	if handler.seen() != 2 {
		t.Errorf("Expected handler called twice, got %d", handler.seen())
	}
	remaining, _ := store.GetUnprocessedEvents(ctx, 10)
	if len(remaining) != 0 {
		t.Errorf("Expected all events delivered, %d still due", len(remaining))
	}
}

func TestProcessBatch_MarksUnhandledEventsProcessed(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := &fakeStore{}
	emitter := NewEmitter(store, testLogger())
	store.add(domainevents.NewRawEvent("transaction.created", nil))

	processor := newProcessorForTest(store, emitter, ProcessorConfig{})

	// Act
	handled, err := processor.ProcessBatch(ctx)

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if handled != 1 {
		t.Errorf("Expected 1 event handled, got %d", handled)
	}
	if !store.only(t).Processed {
		t.Error("Expected the unhandled event marked processed")
	}
}

func TestProcessBatch_ReschedulesFailedDelivery(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := &fakeStore{}
	emitter := NewEmitter(store, testLogger())
	emitter.On("transaction.failed", (&handlerRecorder{err: errors.New("downstream 503")}).handle)

	store.add(domainevents.NewRawEvent("transaction.failed", nil))
	processor := newProcessorForTest(store, emitter, ProcessorConfig{MaxRetries: 3})

	// Act
	if _, err := processor.ProcessBatch(ctx); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Assert
	row := store.only(t)
	if row.Processed {
		t.Error("Expected row kept for redelivery")
	}
	if row.RetryCount != 1 {
		t.Errorf("Expected retryCount 1, got %d", row.RetryCount)
	}
	if row.NextRetryAt == nil || !row.NextRetryAt.After(time.Now()) {
		t.Errorf("Expected a future redelivery time, got %v", row.NextRetryAt)
	}
}

func TestProcessBatch_MarksPermanentlyFailedAfterBudget(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := &fakeStore{}
	emitter := NewEmitter(store, testLogger())
	emitter.On("transaction.failed", (&handlerRecorder{err: errors.New("poison payload")}).handle)

	// The event already burned its three redeliveries.
	event := domainevents.NewRawEvent("transaction.failed", nil)
	event.RetryCount = 3
	store.add(event)

	processor := newProcessorForTest(store, emitter, ProcessorConfig{MaxRetries: 3})

	// Act
	if _, err := processor.ProcessBatch(ctx); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	// Assert
	row := store.only(t)
	if !row.Processed {
		t.Error("Expected row closed out")
	}
	if row.Error == nil {
		t.Fatal("Expected the terminal error recorded")
	}
	if row.NextRetryAt != nil {
		t.Errorf("Expected no further redelivery, got %v", row.NextRetryAt)
	}
}

func TestProcessBatch_RespectsBatchSize(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := &fakeStore{}
	emitter := NewEmitter(store, testLogger())
	for i := 0; i < 5; i++ {
		store.add(domainevents.NewRawEvent("transaction.created", nil))
	}

	processor := newProcessorForTest(store, emitter, ProcessorConfig{BatchSize: 2})

	// Act
	handled, err := processor.ProcessBatch(ctx)

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if handled != 2 {
		t.Errorf("Expected the batch capped at 2, got %d", handled)
	}
	remaining, _ := store.GetUnprocessedEvents(ctx, 10)
	if len(remaining) != 3 {
		t.Errorf("Expected 3 events left, got %d", len(remaining))
	}
}

func TestProcessBatch_SkipsEventsNotYetDue(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := &fakeStore{}
	emitter := NewEmitter(store, testLogger())

	event := domainevents.NewRawEvent("transaction.failed", nil)
	event.MarkForRetry(5, "waiting out backoff")
	store.add(event)

	processor := newProcessorForTest(store, emitter, ProcessorConfig{})

	// Act
	handled, err := processor.ProcessBatch(ctx)

	// Assert
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if handled != 0 {
		t.Errorf("Expected no events claimed, got %d", handled)
	}
}

func TestProcessorStartStop(t *testing.T) {
	// Arrange
	store := &fakeStore{}
	emitter := NewEmitter(store, testLogger())
	processor := newProcessorForTest(store, emitter, ProcessorConfig{Interval: 10 * time.Millisecond})

	// Act
	processor.Start()
	processor.Start() // second Start is a no-op

	// Assert
	if !processor.Running() {
		t.Error("Expected processor running")
	}

	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := processor.Stop(ctx); err != nil {
		t.Fatalf("Expected clean stop, got: %v", err)
	}
	if processor.Running() {
		t.Error("Expected processor stopped")
	}
	if err := processor.Stop(ctx); err != nil {
		t.Errorf("Expected second Stop to be a no-op, got: %v", err)
	}
}

func TestRunMaintenance_PrunesAndPurges(t *testing.T) {
	// Arrange
	ctx := context.Background()
	store := &fakeStore{}
	emitter := NewEmitter(store, testLogger())

	stale := domainevents.NewRawEvent("transaction.completed", nil)
	stale.MarkProcessed()
	stale.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	store.add(stale)

	fresh := domainevents.NewRawEvent("transaction.completed", nil)
	fresh.MarkProcessed()
	store.add(fresh)

	pending := domainevents.NewRawEvent("transaction.failed", nil)
	pending.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	store.add(pending)

	janitor := &lockJanitorStub{purged: 2}
	processor := NewProcessor(store, emitter, janitor, testLogger(), ProcessorConfig{Retention: 24 * time.Hour})

	// Act
	processor.RunMaintenance(ctx)

	// Assert: only the delivered event past retention is pruned.
	if store.count() != 2 {
		t.Errorf("Expected 2 events kept, got %d", store.count())
	}
	if _, err := store.GetEventByID(ctx, stale.ID); err == nil {
		t.Error("Expected the stale delivered event pruned")
	}
	if _, err := store.GetEventByID(ctx, pending.ID); err != nil {
		t.Error("Expected the undelivered event kept")
	}
	if janitor.purgeCount() != 1 {
		t.Errorf("Expected one lock purge pass, got %d", janitor.purgeCount())
	}
}

func TestRunMaintenance_NoLockerWired(t *testing.T) {
	// Arrange
	store := &fakeStore{}
	emitter := NewEmitter(store, testLogger())
	processor := newProcessorForTest(store, emitter, ProcessorConfig{})

	// Act: must not panic without a locker.
	processor.RunMaintenance(context.Background())
}
