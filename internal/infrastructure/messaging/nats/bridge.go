// Package nats bridges domain events onto a NATS broker so external
// consumers (customer profile, analytics, compliance) can subscribe without
// touching the database. The bridge is an ordinary event handler: it rides
// the outbox redelivery path, so a broker outage delays publication instead
// of losing it.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	appevents "github.com/payflowhq/payflow/internal/application/events"
	domainevents "github.com/payflowhq/payflow/internal/domain/events"
)

// subjectPrefix namespaces every published subject. A transaction.created
// event goes out as payments.events.transaction.created, so consumers can
// subscribe with payments.events.transaction.*.
const subjectPrefix = "payments.events."

// allEventTypes enumerates the bridged event types.
var allEventTypes = []string{
	domainevents.EventTypeTransactionCreated,
	domainevents.EventTypeTransactionCompleted,
	domainevents.EventTypeTransactionFailed,
	domainevents.EventTypeTransactionRetryScheduled,
	domainevents.EventTypeTransactionRetryStarted,
	domainevents.EventTypeCompletedAfterRetry,
	domainevents.EventTypeFailedAfterRetry,
	domainevents.EventTypeRecoveryStarted,
	domainevents.EventTypeRecoveryCompleted,
	domainevents.EventTypeMovedToDeadLetter,
	domainevents.EventTypeReprocessing,
	domainevents.EventTypeRetryExhausted,
}

// envelope is the published wire format.
type envelope struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Bridge publishes domain events to NATS.
type Bridge struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewBridge connects to the broker at url. The connection reconnects
// indefinitely; publishes during an outage fail and are redelivered by the
// event processor.
func NewBridge(url string, logger *slog.Logger) (*Bridge, error) {
	conn, err := nats.Connect(url,
		nats.Name("payflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return &Bridge{conn: conn, logger: logger}, nil
}

// Register subscribes the bridge to every bridged event type.
func (b *Bridge) Register(emitter *appevents.Emitter) {
	for _, eventType := range allEventTypes {
		emitter.On(eventType, b.Publish)
	}
}

// Publish republishes one event. Matches the emitter handler signature.
func (b *Bridge) Publish(ctx context.Context, event *domainevents.Event) error {
	payload, err := json.Marshal(envelope{
		ID:        event.ID.String(),
		Type:      event.Type,
		Data:      event.Data,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.ID, err)
	}

	if err := b.conn.Publish(subjectPrefix+event.Type, payload); err != nil {
		return fmt.Errorf("publish event %s to NATS: %w", event.ID, err)
	}
	return nil
}

// Close flushes buffered publishes and drains the connection.
func (b *Bridge) Close() error {
	if err := b.conn.FlushTimeout(2 * time.Second); err != nil {
		b.logger.Warn("NATS flush on close failed", slog.String("error", err.Error()))
	}
	if err := b.conn.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
