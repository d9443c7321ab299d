// Package http - Router configuration for the REST API.
//
// The router assembles handlers and middleware into a single entry point.
// Handlers receive only the use cases they serve; middleware is applied
// per route group.
package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/payflowhq/payflow/internal/adapters/http/common"
	"github.com/payflowhq/payflow/internal/adapters/http/handlers"
	"github.com/payflowhq/payflow/internal/adapters/http/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ============================================
// Router Configuration
// ============================================

// RouterConfig configures the router.
type RouterConfig struct {
	// Logger for the middleware chain
	Logger *slog.Logger
	// Pool backs the database readiness check
	Pool *pgxpool.Pool
	// Provider backs the provider readiness check (may be nil)
	Provider handlers.ProviderHealthChecker
	// Processor backs the event processor readiness check (may be nil)
	Processor handlers.ProcessorStatus
	// Version of the application
	Version string
	// BuildTime of the binary
	BuildTime string
	// Environment (development, staging, production)
	Environment string
	// AllowedOrigins for CORS in production
	AllowedOrigins []string
	// AuthTokenValidator verifies operator bearer tokens
	AuthTokenValidator func(token string) (*middleware.AuthClaims, error)
	// WebhookSecrets maps provider names to their HMAC secrets
	WebhookSecrets map[string]string
	// Redis shares rate-limit counters across replicas (may be nil)
	Redis *redis.Client
}

// DefaultRouterConfig returns the development defaults.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		Logger:             slog.Default(),
		Version:            "dev",
		BuildTime:          "unknown",
		Environment:        "development",
		AllowedOrigins:     []string{"*"},
		AuthTokenValidator: middleware.MockTokenValidator,
	}
}

// ============================================
// Use Case Providers
// ============================================

// TransactionUseCases bundles the transaction use cases for the router.
type TransactionUseCases struct {
	Begin               handlers.BeginTransactionUseCase
	Get                 handlers.GetTransactionUseCase
	ListByCustomer      handlers.ListCustomerTransactionsUseCase
	GetByIdempotencyKey handlers.GetTransactionByIdempotencyKeyUseCase
	UpdateStatus        handlers.UpdateTransactionStatusUseCase
	ScheduleRetry       handlers.ScheduleRetryUseCase
	CancelRetry         handlers.CancelRetryUseCase
	Reprocess           handlers.ReprocessTransactionUseCase
	RetryStats          handlers.RetryStatsProvider
	DeadLetterStats     handlers.DeadLetterStatsProvider
}

// ============================================
// Router Builder
// ============================================

// RouterBuilder configures a gin engine step by step.
type RouterBuilder struct {
	config       *RouterConfig
	transactions *TransactionUseCases
}

// NewRouterBuilder creates a builder.
func NewRouterBuilder(config *RouterConfig) *RouterBuilder {
	if config == nil {
		config = DefaultRouterConfig()
	}
	return &RouterBuilder{
		config: config,
	}
}

// WithTransactionUseCases adds the transaction use cases.
func (b *RouterBuilder) WithTransactionUseCases(useCases *TransactionUseCases) *RouterBuilder {
	b.transactions = useCases
	return b
}

// Build creates the configured gin engine.
func (b *RouterBuilder) Build() *gin.Engine {
	if b.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	handlers.SetupValidator()

	// ============================================
	// Global Middleware
	// ============================================

	// 1. Recovery runs first so every later panic is caught
	router.Use(middleware.Recovery(&middleware.RecoveryConfig{
		Logger:           b.config.Logger,
		EnableStackTrace: b.config.Environment != "production",
	}))

	// 2. Request ID
	router.Use(middleware.RequestID())

	// 3. CORS
	if b.config.Environment == "production" {
		router.Use(middleware.CORS(middleware.ProductionCORSConfig(b.config.AllowedOrigins)))
	} else {
		router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	}

	// 4. Logging
	router.Use(middleware.Logging(&middleware.LoggingConfig{
		Logger:    b.config.Logger,
		SkipPaths: []string{"/health", "/health/live", "/health/ready", "/metrics"},
	}))

	// 5. Rate Limiting (global)
	globalLimit := middleware.DefaultRateLimitConfig()
	globalLimit.Redis = b.config.Redis
	router.Use(middleware.RateLimit(globalLimit))

	// 6. Metrics (Prometheus)
	router.Use(middleware.Metrics())

	// 7. Tracing
	router.Use(otelgin.Middleware("payflow"))

	// ============================================
	// Metrics Endpoint (no auth)
	// ============================================

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ============================================
	// Health Check Routes (no auth)
	// ============================================

	healthHandler := handlers.NewHealthHandler(
		b.config.Pool,
		b.config.Provider,
		b.config.Processor,
		b.config.Version,
		b.config.BuildTime,
	)
	healthHandler.RegisterRoutes(router)

	// ============================================
	// Provider Webhooks (HMAC-authenticated)
	// ============================================

	if b.transactions != nil {
		webhookHandler := handlers.NewWebhookHandler(
			b.config.WebhookSecrets,
			b.transactions.UpdateStatus,
			b.config.Logger,
		)
		router.POST("/webhooks/:provider", webhookHandler.HandleProviderWebhook)
	}

	// ============================================
	// API v1 Routes
	// ============================================

	v1 := router.Group("/api/v1")

	if b.transactions != nil {
		txHandler := handlers.NewTransactionHandler(
			b.transactions.Begin,
			b.transactions.Get,
			b.transactions.ListByCustomer,
			b.transactions.GetByIdempotencyKey,
			b.transactions.UpdateStatus,
			b.transactions.ScheduleRetry,
			b.transactions.CancelRetry,
			b.transactions.Reprocess,
			b.transactions.RetryStats,
			b.transactions.DeadLetterStats,
		)

		transactions := v1.Group("/transactions")
		{
			// Submissions carry a stricter per-caller limit.
			submit := transactions.Group("")
			submit.Use(middleware.TransactionRateLimit(b.config.Redis))
			{
				submit.POST("", txHandler.BeginTransaction)
			}

			transactions.GET("/:id", txHandler.GetTransaction)
			transactions.GET("/customer/:customerId", txHandler.GetCustomerTransactions)
			transactions.GET("/idempotency/:key", txHandler.GetTransactionByIdempotencyKey)
			transactions.POST("/:id/retry", txHandler.RetryTransaction)
			transactions.DELETE("/:id/retry", txHandler.CancelRetry)
			transactions.GET("/stats/retry", txHandler.GetRetryStats)
		}

		// Operator routes require a verified token.
		operator := v1.Group("/transactions")
		operator.Use(middleware.Auth(&middleware.AuthConfig{
			TokenValidator: b.config.AuthTokenValidator,
		}))
		operator.Use(middleware.RequireRole("operator", "admin"))
		{
			operator.PATCH("/:id/status", txHandler.UpdateStatus)
			operator.POST("/:id/reprocess", txHandler.ReprocessTransaction)
			operator.GET("/stats/dead-letter", txHandler.GetDeadLetterStats)
		}
	}

	// ============================================
	// 404 Handler
	// ============================================

	router.NoRoute(func(c *gin.Context) {
		common.Error(c, 404, &common.APIError{
			Code:    common.ErrCodeNotFound,
			Message: "Endpoint not found",
			Details: map[string]interface{}{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			},
		})
	})

	return router
}

// ============================================
// Quick Setup Functions
// ============================================

// NewRouter creates a router with the given configuration.
func NewRouter(config *RouterConfig) *gin.Engine {
	return NewRouterBuilder(config).Build()
}
