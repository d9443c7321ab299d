package retry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Queue is the in-process retry scheduler: one timer per transaction id.
// When a timer fires the id is delivered to the single registered consumer
// and the entry is removed. Timers do not survive a restart; the manager
// rebuilds them from persisted state on startup.
type Queue struct {
	logger *slog.Logger

	mu       sync.Mutex
	timers   map[uuid.UUID]*time.Timer
	consumer func(id uuid.UUID)
	stopped  bool
}

// NewQueue creates an empty queue.
func NewQueue(logger *slog.Logger) *Queue {
	return &Queue{
		logger: logger,
		timers: make(map[uuid.UUID]*time.Timer),
	}
}

// SetConsumer registers the callback receiving due transaction ids. Only one
// consumer is supported; a later call replaces the earlier one.
func (q *Queue) SetConsumer(fn func(id uuid.UUID)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.consumer = fn
}

// Enqueue schedules id to fire after delay. An existing timer for the same
// id is cancelled and replaced.
func (q *Queue) Enqueue(id uuid.UUID, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		q.logger.Warn("retry queue stopped, dropping enqueue", slog.String("transaction_id", id.String()))
		return
	}
	if existing, ok := q.timers[id]; ok {
		existing.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() { q.fire(id, timer) })
	q.timers[id] = timer
}

// Dequeue cancels the timer for id, reporting whether one existed.
func (q *Queue) Dequeue(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	timer, ok := q.timers[id]
	if !ok {
		return false
	}
	timer.Stop()
	delete(q.timers, id)
	return true
}

// Clear cancels every pending timer and returns how many were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.clearLocked()
}

// Len returns the number of pending timers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

// Stop clears the queue and rejects further enqueues. Fired callbacks
// already running are not interrupted.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	if dropped := q.clearLocked(); dropped > 0 {
		q.logger.Info("retry queue stopped", slog.Int("dropped_timers", dropped))
	}
}

func (q *Queue) clearLocked() int {
	count := len(q.timers)
	for id, timer := range q.timers {
		timer.Stop()
		delete(q.timers, id)
	}
	return count
}

func (q *Queue) fire(id uuid.UUID, timer *time.Timer) {
	q.mu.Lock()
	// The entry may have been dequeued or replaced between the timer firing
	// and this callback acquiring the mutex; stale callbacks are dropped.
	if current, ok := q.timers[id]; !ok || current != timer {
		q.mu.Unlock()
		return
	}
	delete(q.timers, id)
	consumer := q.consumer
	stopped := q.stopped
	q.mu.Unlock()

	if stopped {
		return
	}
	if consumer == nil {
		q.logger.Error("retry timer fired without a consumer", slog.String("transaction_id", id.String()))
		return
	}
	consumer(id)
}
