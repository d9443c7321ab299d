package retry

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestQueue_DeliversDueID(t *testing.T) {
	queue := NewQueue(testLogger())
	defer queue.Stop()

	fired := make(chan uuid.UUID, 1)
	queue.SetConsumer(func(id uuid.UUID) { fired <- id })

	id := uuid.New()
	queue.Enqueue(id, 10*time.Millisecond)

	select {
	case got := <-fired:
		if got != id {
			t.Errorf("Expected %s delivered, got %s", id, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the timer to fire")
	}

	if queue.Len() != 0 {
		t.Errorf("Expected empty queue after firing, got %d", queue.Len())
	}
}

func TestQueue_DequeueCancelsTimer(t *testing.T) {
	queue := NewQueue(testLogger())
	defer queue.Stop()

	fired := make(chan uuid.UUID, 1)
	queue.SetConsumer(func(id uuid.UUID) { fired <- id })

	id := uuid.New()
	queue.Enqueue(id, 100*time.Millisecond)

	if !queue.Dequeue(id) {
		t.Fatal("Expected Dequeue to report an existing timer")
	}
	if queue.Dequeue(id) {
		t.Error("Expected second Dequeue to report nothing")
	}

	select {
	case got := <-fired:
		t.Errorf("Expected no delivery after Dequeue, got %s", got)
	case <-time.After(250 * time.Millisecond):
	}
}

func TestQueue_EnqueueReplacesTimer(t *testing.T) {
	queue := NewQueue(testLogger())
	defer queue.Stop()

	fired := make(chan uuid.UUID, 2)
	queue.SetConsumer(func(id uuid.UUID) { fired <- id })

	id := uuid.New()
	queue.Enqueue(id, time.Hour)
	if queue.Len() != 1 {
		t.Fatalf("Expected 1 pending timer, got %d", queue.Len())
	}

	// Rescheduling the same id replaces the hour-long timer.
	queue.Enqueue(id, 10*time.Millisecond)
	if queue.Len() != 1 {
		t.Fatalf("Expected still 1 pending timer, got %d", queue.Len())
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected the replacement timer to fire")
	}

	select {
	case got := <-fired:
		t.Errorf("Expected a single delivery, got another for %s", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueue_StopDropsPendingTimers(t *testing.T) {
	queue := NewQueue(testLogger())

	var deliveries int
	queue.SetConsumer(func(id uuid.UUID) { deliveries++ })

	queue.Enqueue(uuid.New(), time.Hour)
	queue.Enqueue(uuid.New(), time.Hour)
	if queue.Len() != 2 {
		t.Fatalf("Expected 2 pending timers, got %d", queue.Len())
	}

	queue.Stop()

	if queue.Len() != 0 {
		t.Errorf("Expected empty queue after Stop, got %d", queue.Len())
	}

	// Enqueues after Stop are dropped.
	queue.Enqueue(uuid.New(), time.Millisecond)
	if queue.Len() != 0 {
		t.Errorf("Expected enqueue after Stop to be dropped, got %d", queue.Len())
	}

	time.Sleep(50 * time.Millisecond)
	if deliveries != 0 {
		t.Errorf("Expected no deliveries, got %d", deliveries)
	}
}

func TestQueue_ClearReportsDropped(t *testing.T) {
	queue := NewQueue(testLogger())
	defer queue.Stop()

	queue.Enqueue(uuid.New(), time.Hour)
	queue.Enqueue(uuid.New(), time.Hour)
	queue.Enqueue(uuid.New(), time.Hour)

	if dropped := queue.Clear(); dropped != 3 {
		t.Errorf("Expected 3 dropped timers, got %d", dropped)
	}
	if queue.Len() != 0 {
		t.Errorf("Expected empty queue, got %d", queue.Len())
	}
}

func TestQueue_NegativeDelayFiresImmediately(t *testing.T) {
	queue := NewQueue(testLogger())
	defer queue.Stop()

	fired := make(chan uuid.UUID, 1)
	queue.SetConsumer(func(id uuid.UUID) { fired <- id })

	queue.Enqueue(uuid.New(), -time.Second)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected an overdue timer to fire immediately")
	}
}
