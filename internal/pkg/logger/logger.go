// Package logger provides structured logging with correlation ID support.
//
// Features:
// - Context-aware logging: request, transaction and customer IDs stored in
//   the context are folded into every record
// - Trace correlation: when a span is active, its trace and span IDs are
//   added automatically
// - JSON and text output formats with configurable level
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for correlation data
type contextKey string

const (
	// RequestIDKey is the context key for the HTTP request ID
	RequestIDKey contextKey = "request_id"
	// TransactionIDKey is the context key for the transaction being processed
	TransactionIDKey contextKey = "transaction_id"
	// CustomerIDKey is the context key for the acting customer
	CustomerIDKey contextKey = "customer_id"
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, text
	Output     io.Writer
	AddSource  bool
	TimeFormat string
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:      "info",
		Format:     "json",
		Output:     os.Stdout,
		AddSource:  false,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// New creates a new slog.Logger with the given configuration
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	}

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	// Wrap with context handler
	return slog.New(&ContextHandler{handler: handler})
}

// ContextHandler wraps a slog.Handler to extract correlation data from context
type ContextHandler struct {
	handler slog.Handler
}

// Enabled returns whether the handler is enabled for the given level
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle adds correlation data from context to the log record
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if requestID := GetRequestID(ctx); requestID != "" {
		r.AddAttrs(slog.String("request_id", requestID))
	}
	if transactionID := GetTransactionID(ctx); transactionID != "" {
		r.AddAttrs(slog.String("transaction_id", transactionID))
	}
	if customerID := GetCustomerID(ctx); customerID != "" {
		r.AddAttrs(slog.String("customer_id", customerID))
	}

	// Trace correlation comes straight from the active span.
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	return h.handler.Handle(ctx, r)
}

// WithAttrs returns a new handler with the given attributes
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{handler: h.handler.WithAttrs(attrs)}
}

// WithGroup returns a new handler with the given group
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{handler: h.handler.WithGroup(name)}
}

// Context helpers

// WithRequestID adds the request ID to context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTransactionID adds the transaction ID to context
func WithTransactionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TransactionIDKey, id)
}

// GetTransactionID extracts the transaction ID from context
func GetTransactionID(ctx context.Context) string {
	if id, ok := ctx.Value(TransactionIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCustomerID adds the customer ID to context
func WithCustomerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CustomerIDKey, id)
}

// GetCustomerID extracts the customer ID from context
func GetCustomerID(ctx context.Context) string {
	if id, ok := ctx.Value(CustomerIDKey).(string); ok {
		return id
	}
	return ""
}

// WithAllIDs adds all correlation IDs to context at once
func WithAllIDs(ctx context.Context, requestID, transactionID, customerID string) context.Context {
	if requestID != "" {
		ctx = WithRequestID(ctx, requestID)
	}
	if transactionID != "" {
		ctx = WithTransactionID(ctx, transactionID)
	}
	if customerID != "" {
		ctx = WithCustomerID(ctx, customerID)
	}
	return ctx
}

// L is a convenience function to get the default logger
func L() *slog.Logger {
	return slog.Default()
}

// FromContext returns the default logger. Correlation data is added per
// record by the ContextHandler, so callers just pass ctx to the *Context
// log methods.
func FromContext(ctx context.Context) *slog.Logger {
	return slog.Default()
}

// Setup initializes the global logger
func Setup(cfg *Config) {
	logger := New(cfg)
	slog.SetDefault(logger)
}
