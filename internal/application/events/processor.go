package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/payflowhq/payflow/internal/application/ports"
	domainevents "github.com/payflowhq/payflow/internal/domain/events"
)

// HandlerSource resolves handlers for stored events. The emitter implements
// it, so redelivery reaches exactly the handlers a live emit would.
type HandlerSource interface {
	HandlersFor(eventType string) []Handler
}

// ProcessorConfig tunes the background delivery loop.
type ProcessorConfig struct {
	// Interval between outbox polls.
	Interval time.Duration
	// BatchSize bounds how many events one tick may claim.
	BatchSize int
	// MaxRetries is how many redeliveries a failing event gets before it is
	// marked permanently failed.
	MaxRetries int
	// Retention is how long delivered events stay before pruning.
	Retention time.Duration
	// MaintenanceInterval spaces the prune and expired-lock passes.
	MaintenanceInterval time.Duration
	// BatchTimeout bounds the work of a single tick.
	BatchTimeout time.Duration
}

func (c ProcessorConfig) withDefaults() ProcessorConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 10 * time.Minute
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 30 * time.Second
	}
	return c
}

// Processor drains the outbox on a fixed tick, redelivering events whose
// synchronous dispatch failed and finishing events appended just before a
// crash. It also runs the maintenance pass: pruning delivered events past
// retention and deleting expired lock rows.
type Processor struct {
	store    ports.EventStore
	handlers HandlerSource
	locker   ports.RecordLocker
	logger   *slog.Logger
	tracer   trace.Tracer
	cfg      ProcessorConfig

	mu              sync.Mutex
	running         bool
	stop            chan struct{}
	done            chan struct{}
	lastMaintenance time.Time
}

// NewProcessor creates a processor. locker may be nil when no lock janitor
// is wanted (tests).
func NewProcessor(
	store ports.EventStore,
	handlers HandlerSource,
	locker ports.RecordLocker,
	logger *slog.Logger,
	cfg ProcessorConfig,
) *Processor {
	return &Processor{
		store:    store,
		handlers: handlers,
		locker:   locker,
		logger:   logger,
		tracer:   otel.Tracer("payflow/events"),
		cfg:      cfg.withDefaults(),
	}
}

// Start launches the delivery loop. Calling Start on a running processor is
// a no-op.
func (p *Processor) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(p.stop, p.done)

	p.logger.Info("event processor started",
		slog.Duration("interval", p.cfg.Interval),
		slog.Int("batch_size", p.cfg.BatchSize),
		slog.Int("max_retries", p.cfg.MaxRetries),
	)
}

// Stop halts the loop, waiting for the in-flight batch to finish or for ctx
// to expire.
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		p.logger.Info("event processor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event processor stop: %w", ctx.Err())
	}
}

// Running reports whether the loop is active. Used by the readiness probe.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.BatchTimeout)
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("event batch processing failed", slog.String("error", err.Error()))
			}
			p.maybeRunMaintenance(ctx)
			cancel()
		}
	}
}

// ProcessBatch claims one batch of due events and delivers them. It returns
// how many events were handled.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "events.ProcessBatch")
	defer span.End()

	batch, err := p.store.GetUnprocessedEvents(ctx, p.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch batch")
		return 0, fmt.Errorf("fetch unprocessed events: %w", err)
	}
	span.SetAttributes(attribute.Int("events.batch_size", len(batch)))

	for _, event := range batch {
		p.deliver(ctx, event)
	}
	return len(batch), nil
}

// deliver runs the handlers for one event and records the outcome. Handler
// errors never abort the batch; the failing event is rescheduled or, once
// MaxRetries is spent, marked permanently failed.
func (p *Processor) deliver(ctx context.Context, event *domainevents.Event) {
	ctx, span := p.tracer.Start(ctx, "events.Deliver",
		trace.WithAttributes(
			attribute.String("event.id", event.ID.String()),
			attribute.String("event.type", event.Type),
			attribute.Int("event.retry_count", event.RetryCount),
		))
	defer span.End()

	handlers := p.handlers.HandlersFor(event.Type)
	if len(handlers) == 0 {
		if err := p.store.MarkAsProcessed(ctx, event.ID); err != nil {
			p.logger.Error("mark unhandled event processed failed",
				slog.String("event_id", event.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	dispatchErr := dispatch(ctx, handlers, event)
	if dispatchErr == nil {
		if err := p.store.MarkAsProcessed(ctx, event.ID); err != nil {
			p.logger.Error("mark event processed failed",
				slog.String("event_id", event.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	span.RecordError(dispatchErr)
	span.SetStatus(codes.Error, "handler failed")

	nextAttempt := event.RetryCount + 1
	if nextAttempt > p.cfg.MaxRetries {
		p.logger.Error("event delivery failed permanently",
			slog.String("event_id", event.ID.String()),
			slog.String("event_type", event.Type),
			slog.Int("attempts", event.RetryCount),
			slog.String("error", dispatchErr.Error()),
		)
		if err := p.store.MarkAsFailed(ctx, event.ID, dispatchErr.Error()); err != nil {
			p.logger.Error("mark event failed errored",
				slog.String("event_id", event.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	p.logger.Warn("event delivery failed, rescheduling",
		slog.String("event_id", event.ID.String()),
		slog.String("event_type", event.Type),
		slog.Int("attempt", nextAttempt),
		slog.String("error", dispatchErr.Error()),
	)
	if err := p.store.MarkForRetry(ctx, event.ID, nextAttempt, dispatchErr.Error()); err != nil {
		p.logger.Error("mark event for retry failed",
			slog.String("event_id", event.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Processor) maybeRunMaintenance(ctx context.Context) {
	p.mu.Lock()
	due := time.Since(p.lastMaintenance) >= p.cfg.MaintenanceInterval
	if due {
		p.lastMaintenance = time.Now()
	}
	p.mu.Unlock()
	if !due {
		return
	}
	p.RunMaintenance(ctx)
}

// RunMaintenance prunes delivered events past retention and deletes expired
// lock rows.
func (p *Processor) RunMaintenance(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "events.RunMaintenance")
	defer span.End()

	cutoff := time.Now().UTC().Add(-p.cfg.Retention)
	pruned, err := p.store.PruneProcessedEvents(ctx, cutoff)
	if err != nil {
		p.logger.Error("event pruning failed", slog.String("error", err.Error()))
	} else if pruned > 0 {
		p.logger.Info("pruned delivered events",
			slog.Int64("count", pruned),
			slog.Time("older_than", cutoff),
		)
	}

	if p.locker == nil {
		return
	}
	purged, err := p.locker.PurgeExpired(ctx)
	if err != nil {
		p.logger.Error("expired lock purge failed", slog.String("error", err.Error()))
	} else if purged > 0 {
		p.logger.Info("purged expired locks", slog.Int64("count", purged))
	}
}
