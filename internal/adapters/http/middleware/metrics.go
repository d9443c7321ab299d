package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// httpRequestsTotal counts total HTTP requests
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration measures request latency
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// httpRequestsInFlight tracks concurrent requests
	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "payflow",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)

	// httpResponseSize measures response body size
	httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payflow",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)
)

// Business metrics
var (
	// TransactionsTotal counts transactions by type, status and currency
	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "business",
			Name:      "transactions_total",
			Help:      "Total number of transactions",
		},
		[]string{"type", "status", "currency"},
	)

	// TransactionAmount tracks transaction amounts
	TransactionAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payflow",
			Subsystem: "business",
			Name:      "transaction_amount",
			Help:      "Transaction amounts in minor units",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 10),
		},
		[]string{"type", "currency"},
	)

	// RetriesTotal counts retry outcomes
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "business",
			Name:      "retries_total",
			Help:      "Total number of retry events by outcome",
		},
		[]string{"outcome"}, // scheduled, started, succeeded, failed, exhausted, cancelled
	)

	// DeadLetterDepth gauges the dead-letter queue size
	DeadLetterDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "payflow",
			Subsystem: "business",
			Name:      "dead_letter_depth",
			Help:      "Transactions currently parked in the dead-letter queue",
		},
	)

	// EventsProcessedTotal counts outbox deliveries
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "business",
			Name:      "events_processed_total",
			Help:      "Outbox events processed by type and result",
		},
		[]string{"type", "result"}, // delivered, retried, failed
	)
)

// Database metrics
var (
	// DBQueryDuration measures database query latency
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "payflow",
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation", "table"},
	)

	// DBConnectionsTotal tracks database connections
	DBConnectionsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "payflow",
			Subsystem: "db",
			Name:      "connections",
			Help:      "Number of database connections",
		},
		[]string{"state"}, // idle, in_use, max
	)

	// DBErrorsTotal counts database errors
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "payflow",
			Subsystem: "db",
			Name:      "errors_total",
			Help:      "Total number of database errors",
		},
		[]string{"operation", "error_type"},
	)
)

// Metrics returns the Prometheus middleware.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip the metrics endpoint itself
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		method := c.Request.Method

		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(c.Writer.Size()))
	}
}

// RecordTransaction records a transaction outcome.
func RecordTransaction(txType, status, currency string, amountCents int64) {
	TransactionsTotal.WithLabelValues(txType, status, currency).Inc()
	TransactionAmount.WithLabelValues(txType, currency).Observe(float64(amountCents))
}

// RecordRetry records a retry lifecycle outcome.
func RecordRetry(outcome string) {
	RetriesTotal.WithLabelValues(outcome).Inc()
}

// SetDeadLetterDepth updates the dead-letter queue gauge.
func SetDeadLetterDepth(depth int) {
	DeadLetterDepth.Set(float64(depth))
}

// RecordEventDelivery records an outbox delivery attempt.
func RecordEventDelivery(eventType, result string) {
	EventsProcessedTotal.WithLabelValues(eventType, result).Inc()
}

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordDBError records a database error metric.
func RecordDBError(operation, errorType string) {
	DBErrorsTotal.WithLabelValues(operation, errorType).Inc()
}

// UpdateDBConnections updates the connection pool gauges.
func UpdateDBConnections(idle, inUse, max int32) {
	DBConnectionsTotal.WithLabelValues("idle").Set(float64(idle))
	DBConnectionsTotal.WithLabelValues("in_use").Set(float64(inUse))
	DBConnectionsTotal.WithLabelValues("max").Set(float64(max))
}
