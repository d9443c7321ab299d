// Package events hosts the in-process event plumbing: the emitter writing
// outbox rows and fanning out to handlers, and the background processor
// draining rows whose synchronous dispatch did not succeed.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/payflowhq/payflow/internal/application/ports"
	domainevents "github.com/payflowhq/payflow/internal/domain/events"
)

// Handler reacts to one event. Handlers must be idempotent: delivery is
// at-least-once and a row whose synchronous dispatch failed is redelivered
// by the processor.
type Handler func(ctx context.Context, event *domainevents.Event) error

// Filter decides whether an event is emitted at all. Returning false
// suppresses the emit; it is not an error.
type Filter func(event *domainevents.Event) bool

// registry holds handler subscriptions shared by the emitter and the
// processor.
type registry struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func newRegistry() *registry {
	return &registry{handlers: make(map[string][]Handler)}
}

func (r *registry) add(eventType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[eventType] = append(r.handlers[eventType], handler)
}

func (r *registry) handlersFor(eventType string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	registered := r.handlers[eventType]
	if len(registered) == 0 {
		return nil
	}
	out := make([]Handler, len(registered))
	copy(out, registered)
	return out
}

// Emitter appends events to the durable outbox and dispatches them to
// subscribed handlers in the caller's goroutine.
//
// The append always precedes the fan-out: a crash between the two leaves an
// unprocessed row for the processor to redeliver.
type Emitter struct {
	store  ports.EventStore
	logger *slog.Logger

	registry *registry

	filterMu sync.RWMutex
	filters  map[string]Filter
}

// NewEmitter creates an emitter backed by the given outbox store.
func NewEmitter(store ports.EventStore, logger *slog.Logger) *Emitter {
	return &Emitter{
		store:    store,
		logger:   logger,
		registry: newRegistry(),
		filters:  make(map[string]Filter),
	}
}

// On subscribes a handler to an event type.
func (e *Emitter) On(eventType string, handler Handler) {
	e.registry.add(eventType, handler)
}

// HandlersFor returns the handlers subscribed to an event type. The
// processor uses this to redeliver stored events.
func (e *Emitter) HandlersFor(eventType string) []Handler {
	return e.registry.handlersFor(eventType)
}

// AddFilter installs a named filter applied to every emit.
func (e *Emitter) AddFilter(name string, filter Filter) {
	e.filterMu.Lock()
	defer e.filterMu.Unlock()
	e.filters[name] = filter
}

// RemoveFilter uninstalls a filter; unknown names are ignored.
func (e *Emitter) RemoveFilter(name string) {
	e.filterMu.Lock()
	defer e.filterMu.Unlock()
	delete(e.filters, name)
}

// Emit records and dispatches an event. It reports whether the event was
// emitted: false with a nil error means a filter suppressed it.
//
// Dispatch failures do not fail the emit. The row is marked for retry and
// the processor redelivers it with backoff.
func (e *Emitter) Emit(ctx context.Context, eventType string, data map[string]interface{}) (bool, error) {
	event := domainevents.NewRawEvent(eventType, data)

	if name, suppressed := e.suppressedBy(event); suppressed {
		e.logger.Debug("event suppressed by filter",
			slog.String("event_type", eventType),
			slog.String("filter", name),
		)
		return false, nil
	}

	if err := e.store.SaveEvent(ctx, event); err != nil {
		return false, fmt.Errorf("save event %s: %w", eventType, err)
	}

	handlers := e.registry.handlersFor(eventType)
	if len(handlers) == 0 {
		if err := e.store.MarkAsProcessed(ctx, event.ID); err != nil {
			return true, fmt.Errorf("mark event %s processed: %w", event.ID, err)
		}
		return true, nil
	}

	if dispatchErr := dispatch(ctx, handlers, event); dispatchErr != nil {
		e.logger.Warn("synchronous event dispatch failed, scheduling redelivery",
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", eventType),
			slog.String("error", dispatchErr.Error()),
		)
		if err := e.store.MarkForRetry(ctx, event.ID, 1, dispatchErr.Error()); err != nil {
			return true, fmt.Errorf("mark event %s for retry: %w", event.ID, err)
		}
		return true, nil
	}

	if err := e.store.MarkAsProcessed(ctx, event.ID); err != nil {
		return true, fmt.Errorf("mark event %s processed: %w", event.ID, err)
	}
	return true, nil
}

// ReplayEvent makes a delivered or failed event dispatchable again and
// dispatches it immediately. Operator surface for investigating stuck
// consumers.
func (e *Emitter) ReplayEvent(ctx context.Context, id uuid.UUID) error {
	event, err := e.store.GetEventByID(ctx, id)
	if err != nil {
		return err
	}

	if err := e.store.ResetProcessedFlag(ctx, id); err != nil {
		return fmt.Errorf("reset event %s: %w", id, err)
	}

	handlers := e.registry.handlersFor(event.Type)
	if len(handlers) == 0 {
		return e.store.MarkAsProcessed(ctx, id)
	}

	if dispatchErr := dispatch(ctx, handlers, event); dispatchErr != nil {
		return e.store.MarkForRetry(ctx, id, 1, dispatchErr.Error())
	}
	return e.store.MarkAsProcessed(ctx, id)
}

func (e *Emitter) suppressedBy(event *domainevents.Event) (string, bool) {
	e.filterMu.RLock()
	defer e.filterMu.RUnlock()
	for name, filter := range e.filters {
		if !filter(event) {
			return name, true
		}
	}
	return "", false
}

// dispatch runs handlers sequentially, stopping at the first failure so the
// retry carries a single actionable error.
func dispatch(ctx context.Context, handlers []Handler, event *domainevents.Event) error {
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
