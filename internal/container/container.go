// Package container - Dependency Injection container for the application.
//
// The container owns the lifecycle of every component:
// - Creation (staged initialization, infrastructure first)
// - Access (getters)
// - Teardown (reverse-order shutdown)
//
// Pattern: Composition Root
// - All dependencies are assembled in one place
// - Easy to test
// - Easy to swap implementations
package container

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/payflowhq/payflow/internal/adapters/http"
	"github.com/payflowhq/payflow/internal/adapters/http/handlers"
	"github.com/payflowhq/payflow/internal/adapters/http/middleware"
	appevents "github.com/payflowhq/payflow/internal/application/events"
	"github.com/payflowhq/payflow/internal/application/ports"
	"github.com/payflowhq/payflow/internal/application/recovery"
	"github.com/payflowhq/payflow/internal/application/retry"
	"github.com/payflowhq/payflow/internal/application/usecases/transaction"
	"github.com/payflowhq/payflow/internal/config"
	domainevents "github.com/payflowhq/payflow/internal/domain/events"
	"github.com/payflowhq/payflow/internal/domain/valueobjects"
	"github.com/payflowhq/payflow/internal/infrastructure/messaging/nats"
	"github.com/payflowhq/payflow/internal/infrastructure/observability"
	"github.com/payflowhq/payflow/internal/infrastructure/persistence/postgres"
	"github.com/payflowhq/payflow/internal/infrastructure/providers"
	"github.com/payflowhq/payflow/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// ============================================
// Container
// ============================================

// Container is the application DI container.
type Container struct {
	config *config.Config
	logger *slog.Logger

	// Infrastructure
	pool            *pgxpool.Pool
	redisClient     *redis.Client
	natsBridge      *nats.Bridge
	gatewayProbe    *providers.GatewayProbe
	tracingShutdown func(context.Context) error

	// Repositories
	transactionRepo ports.TransactionRepository
	eventStore      ports.EventStore
	locker          ports.RecordLocker
	deadLetters     ports.DeadLetterRepository
	uow             ports.UnitOfWork

	// Payment provider
	provider ports.PaymentProvider

	// Event system
	emitter   *appevents.Emitter
	processor *appevents.Processor

	// Retry and recovery
	retryQueue      *retry.Queue
	retryManager    *retry.Manager
	recoveryManager *recovery.Manager

	// Use Cases
	beginTransactionUC *transaction.BeginTransactionUseCase
	executeRetryUC     *transaction.ExecuteRetryUseCase
	getTransactionUC   *transaction.GetTransactionUseCase
	listTransactionsUC *transaction.ListCustomerTransactionsUseCase
	getByKeyUC         *transaction.GetTransactionByIdempotencyKeyUseCase
	updateStatusUC     *transaction.UpdateStatusUseCase
	scheduleRetryUC    *transaction.ScheduleRetryUseCase
	cancelRetryUC      *transaction.CancelRetryUseCase
	reprocessUC        *transaction.ReprocessTransactionUseCase

	// HTTP
	httpServer *http.Server
}

// New creates a container with the given configuration.
func New(cfg *config.Config) *Container {
	return &Container{
		config: cfg,
	}
}

// ============================================
// Initialization
// ============================================

// Initialize builds every component. Stages are ordered so each one only
// depends on stages before it; a failure leaves earlier stages allocated,
// so callers should still run Shutdown.
func (c *Container) Initialize(ctx context.Context) error {
	c.logger = c.initLogger()
	c.logger.Info("Initializing application container...")

	// 1. Tracing
	if err := c.initTracing(ctx); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	// 2. Database
	if err := c.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database connected")

	// 3. Redis (optional, shared rate-limit counters)
	if err := c.initRedis(ctx); err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}

	// 4. Repositories
	c.initRepositories()
	c.logger.Info("Repositories initialized")

	// 5. Payment provider
	if err := c.initProvider(); err != nil {
		return fmt.Errorf("failed to initialize payment provider: %w", err)
	}
	c.logger.Info("Payment provider initialized",
		slog.String("provider", c.provider.Name()),
	)

	// 6. Event system (emitter, observers, outbox processor)
	if err := c.initEventSystem(); err != nil {
		return fmt.Errorf("failed to initialize event system: %w", err)
	}
	c.logger.Info("Event system initialized")

	// 7. Retry and recovery managers
	if err := c.initManagers(); err != nil {
		return fmt.Errorf("failed to initialize retry/recovery managers: %w", err)
	}
	c.logger.Info("Retry and recovery managers initialized")

	// 8. Use Cases
	c.initUseCases()
	c.logger.Info("Use cases initialized")

	// 9. HTTP Server
	c.initHTTPServer()
	c.logger.Info("HTTP server initialized")

	c.logger.Info("Container initialization complete")
	return nil
}

// initLogger builds the process logger and installs it as the slog default.
func (c *Container) initLogger() *slog.Logger {
	var output io.Writer = os.Stdout
	if c.config.Log.Output == "stderr" {
		output = os.Stderr
	}

	log := logger.New(&logger.Config{
		Level:     c.config.Log.Level,
		Format:    c.config.Log.Format,
		Output:    output,
		AddSource: c.config.App.Debug,
	})
	slog.SetDefault(log)

	return log
}

// initTracing wires the OpenTelemetry provider. Without a collector endpoint
// spans stay in-process, which keeps trace/span IDs in the logs.
func (c *Container) initTracing(ctx context.Context) error {
	shutdown, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:    c.config.App.Name,
		ServiceVersion: c.config.App.Version,
		Environment:    c.config.App.Environment,
		Endpoint:       c.config.Tracing.Endpoint,
		SampleRatio:    c.config.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	c.tracingShutdown = shutdown
	return nil
}

// initDatabase opens the pgx connection pool.
func (c *Container) initDatabase(ctx context.Context) error {
	pool, err := postgres.NewConnectionPool(ctx, postgres.Config{
		Host:            c.config.Database.Host,
		Port:            c.config.Database.Port,
		Database:        c.config.Database.Database,
		User:            c.config.Database.User,
		Password:        c.config.Database.Password,
		SSLMode:         c.config.Database.SSLMode,
		MaxConns:        c.config.Database.MaxConnections,
		MinConns:        c.config.Database.MinConnections,
		MaxConnLifetime: c.config.Database.MaxConnLifetime,
		MaxConnIdleTime: c.config.Database.MaxConnIdleTime,
	})
	if err != nil {
		return err
	}

	c.pool = pool
	return nil
}

// initRedis connects the shared rate-limit store when an address is
// configured. A configured but unreachable Redis fails startup: silently
// degrading to per-replica counters would loosen the advertised limits.
func (c *Container) initRedis(ctx context.Context) error {
	if c.config.Redis.Addr == "" {
		c.logger.Info("Redis not configured, rate limiting stays in-process")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     c.config.Redis.Addr,
		Password: c.config.Redis.Password,
		DB:       c.config.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping redis at %s: %w", c.config.Redis.Addr, err)
	}

	c.redisClient = client
	c.logger.Info("Redis connected", slog.String("addr", c.config.Redis.Addr))
	return nil
}

// initRepositories builds the persistence adapters.
func (c *Container) initRepositories() {
	c.transactionRepo = postgres.NewTransactionRepository(c.pool)
	c.eventStore = postgres.NewEventRepository(c.pool)
	c.locker = postgres.NewLockRepository(c.pool)
	c.deadLetters = postgres.NewDeadLetterRepository(c.pool)

	// Unit of Work
	c.uow = postgres.NewUnitOfWork(c.pool)
}

// initProvider selects the payment provider and, when a gateway address is
// configured, the gRPC probe backing the readiness check.
func (c *Container) initProvider() error {
	c.provider = providers.NewSimulatedProvider(c.config.Providers.Latency())

	if addr := c.config.Providers.GRPCAddr; addr != "" {
		probe, err := providers.NewGatewayProbe(c.config.Providers.Name, addr)
		if err != nil {
			return fmt.Errorf("connect provider gateway probe at %s: %w", addr, err)
		}
		c.gatewayProbe = probe
	}

	return nil
}

// initEventSystem builds the emitter, subscribes the in-process observers
// (metrics, optional NATS bridge) and prepares the outbox processor.
//
// Observer registration happens before any use case runs, so the first
// emitted event already reaches every subscriber.
func (c *Container) initEventSystem() error {
	c.emitter = appevents.NewEmitter(c.eventStore, c.logger)

	c.registerMetricsObservers()

	if url := c.config.Messaging.NATSURL; url != "" {
		bridge, err := nats.NewBridge(url, c.logger)
		if err != nil {
			return fmt.Errorf("connect NATS at %s: %w", url, err)
		}
		bridge.Register(c.emitter)
		c.natsBridge = bridge
		c.logger.Info("NATS bridge connected", slog.String("url", url))
	}

	c.processor = appevents.NewProcessor(
		c.eventStore,
		c.emitter,
		c.locker,
		c.logger,
		appevents.ProcessorConfig{
			Interval:   c.config.Events.ProcessingInterval(),
			BatchSize:  c.config.Events.BatchSize,
			MaxRetries: c.config.Events.MaxRetries,
			Retention:  c.config.Events.Retention(),
		},
	)

	return nil
}

// initManagers builds the retry queue/manager and the recovery manager, then
// cross-wires them: the retry manager escalates exhausted transactions to
// recovery, recovery hands retryable strategy failures back to retry.
func (c *Container) initManagers() error {
	c.retryQueue = retry.NewQueue(c.logger)

	strategies := []recovery.Strategy{
		recovery.NewCommunicationFaultStrategy(c.provider, c.logger),
		recovery.NewSoftDeclineStrategy(c.provider, c.logger),
	}
	c.recoveryManager = recovery.NewManager(
		strategies,
		c.transactionRepo,
		c.deadLetters,
		c.locker,
		c.uow,
		c.emitter,
		c.config.Locks.TTL(),
		c.logger,
	)

	policy := retry.Policy{
		MaxAttempts:  c.config.Retry.MaxAttempts,
		Backoff:      retry.BackoffStrategy(c.config.Retry.Backoff),
		InitialDelay: c.config.Retry.InitialDelay(),
		MaxDelay:     c.config.Retry.MaxDelay(),
	}
	if err := policy.Validate(); err != nil {
		return fmt.Errorf("invalid retry policy: %w", err)
	}

	c.retryManager = retry.NewManager(
		policy,
		c.retryQueue,
		c.transactionRepo,
		c.uow,
		c.emitter,
		c.recoveryManager,
		c.logger,
	)
	c.recoveryManager.SetRetryScheduler(c.retryManager)

	return nil
}

// initUseCases builds the application use cases.
func (c *Container) initUseCases() {
	limits := transaction.NewLimitsChecker(
		c.transactionRepo,
		c.config.Limits.SingleMax,
		c.config.Limits.DailyMax,
		c.logger,
	)

	c.beginTransactionUC = transaction.NewBeginTransactionUseCase(
		c.transactionRepo,
		c.provider,
		c.locker,
		limits,
		c.retryManager,
		c.recoveryManager,
		c.uow,
		c.emitter,
		c.config.Locks.TTL(),
		c.logger,
	)

	c.executeRetryUC = transaction.NewExecuteRetryUseCase(
		c.transactionRepo,
		c.provider,
		c.locker,
		limits,
		c.retryManager,
		c.recoveryManager,
		c.uow,
		c.emitter,
		c.config.Locks.TTL(),
		c.logger,
	)
	// Due retries fire back into the execute use case.
	c.retryManager.SetExecutor(c.executeRetryUC)

	c.getTransactionUC = transaction.NewGetTransactionUseCase(c.transactionRepo)
	c.listTransactionsUC = transaction.NewListCustomerTransactionsUseCase(c.transactionRepo)
	c.getByKeyUC = transaction.NewGetTransactionByIdempotencyKeyUseCase(c.transactionRepo)

	c.updateStatusUC = transaction.NewUpdateStatusUseCase(
		c.transactionRepo,
		c.locker,
		c.uow,
		c.emitter,
		c.config.Locks.TTL(),
		c.logger,
	)

	c.scheduleRetryUC = transaction.NewScheduleRetryUseCase(
		c.transactionRepo,
		c.retryManager,
		c.logger,
	)
	c.cancelRetryUC = transaction.NewCancelRetryUseCase(c.retryManager, c.logger)
	c.reprocessUC = transaction.NewReprocessTransactionUseCase(c.recoveryManager, c.logger)
}

// initHTTPServer assembles the router and the HTTP server.
func (c *Container) initHTTPServer() {
	// Token validator: real JWT verification unless mock auth is enabled.
	var tokenValidator func(token string) (*middleware.AuthClaims, error)
	if c.config.Auth.EnableMockAuth {
		tokenValidator = middleware.MockTokenValidator
	} else {
		tokenValidator = middleware.JWTValidator(c.config.Auth.JWTSecret, c.config.Auth.JWTIssuer)
	}

	// Readiness probes the gateway when configured, the provider otherwise.
	var healthChecker handlers.ProviderHealthChecker = c.provider
	if c.gatewayProbe != nil {
		healthChecker = c.gatewayProbe
	}

	routerConfig := &http.RouterConfig{
		Logger:             c.logger,
		Pool:               c.pool,
		Provider:           healthChecker,
		Processor:          c.processor,
		Version:            c.config.App.Version,
		BuildTime:          c.config.App.BuildTime,
		Environment:        c.config.App.Environment,
		AllowedOrigins:     c.config.CORS.AllowedOrigins,
		AuthTokenValidator: tokenValidator,
		WebhookSecrets:     c.config.Providers.WebhookSecrets,
		Redis:              c.redisClient,
	}

	router := http.NewRouterBuilder(routerConfig).
		WithTransactionUseCases(&http.TransactionUseCases{
			Begin:               c.beginTransactionUC,
			Get:                 c.getTransactionUC,
			ListByCustomer:      c.listTransactionsUC,
			GetByIdempotencyKey: c.getByKeyUC,
			UpdateStatus:        c.updateStatusUC,
			ScheduleRetry:       c.scheduleRetryUC,
			CancelRetry:         c.cancelRetryUC,
			Reprocess:           c.reprocessUC,
			RetryStats:          c.retryManager,
			DeadLetterStats:     c.recoveryManager,
		}).
		Build()

	serverConfig := &http.ServerConfig{
		Host:            c.config.Server.Host,
		Port:            fmt.Sprintf("%d", c.config.Server.Port),
		ReadTimeout:     c.config.Server.ReadTimeout,
		WriteTimeout:    c.config.Server.WriteTimeout,
		IdleTimeout:     c.config.Server.IdleTimeout,
		ShutdownTimeout: c.config.Server.ShutdownTimeout,
		Logger:          c.logger,
	}

	c.httpServer = http.NewServer(serverConfig, router)
}

// ============================================
// Metrics Observers
// ============================================

// registerMetricsObservers subscribes the Prometheus bridge to the domain
// events. Handlers never return an error: a metrics glitch must not push an
// event onto the redelivery path.
func (c *Container) registerMetricsObservers() {
	record := func(status string) appevents.Handler {
		return func(ctx context.Context, event *domainevents.Event) error {
			txType, currency, cents := transactionFacts(event.Data)
			middleware.RecordTransaction(txType, status, currency, cents)
			return nil
		}
	}

	c.emitter.On(domainevents.EventTypeTransactionCreated, record("PENDING"))
	c.emitter.On(domainevents.EventTypeTransactionCompleted, record("COMPLETED"))
	c.emitter.On(domainevents.EventTypeTransactionFailed, record("FAILED"))

	c.emitter.On(domainevents.EventTypeCompletedAfterRetry, func(ctx context.Context, event *domainevents.Event) error {
		txType, currency, cents := transactionFacts(event.Data)
		middleware.RecordTransaction(txType, "COMPLETED", currency, cents)
		middleware.RecordRetry("succeeded")
		return nil
	})
	c.emitter.On(domainevents.EventTypeFailedAfterRetry, func(ctx context.Context, event *domainevents.Event) error {
		txType, currency, cents := transactionFacts(event.Data)
		middleware.RecordTransaction(txType, "FAILED", currency, cents)
		middleware.RecordRetry("failed")
		return nil
	})

	retryOutcome := func(outcome string) appevents.Handler {
		return func(ctx context.Context, event *domainevents.Event) error {
			middleware.RecordRetry(outcome)
			return nil
		}
	}
	c.emitter.On(domainevents.EventTypeTransactionRetryScheduled, retryOutcome("scheduled"))
	c.emitter.On(domainevents.EventTypeTransactionRetryStarted, retryOutcome("started"))
	c.emitter.On(domainevents.EventTypeRetryExhausted, retryOutcome("exhausted"))

	refreshDepth := func(ctx context.Context, event *domainevents.Event) error {
		stats, err := c.deadLetters.CountByErrorCode(ctx)
		if err != nil {
			c.logger.Warn("dead-letter depth refresh failed",
				slog.String("error", err.Error()),
			)
			return nil
		}
		depth := 0
		for _, stat := range stats {
			depth += stat.Count
		}
		middleware.SetDeadLetterDepth(depth)
		return nil
	}
	c.emitter.On(domainevents.EventTypeMovedToDeadLetter, refreshDepth)
	c.emitter.On(domainevents.EventTypeReprocessing, refreshDepth)
}

// transactionFacts pulls the metric labels out of an event payload. Events
// replayed from the outbox arrive JSON-decoded, so values are plain strings.
func transactionFacts(data map[string]interface{}) (txType, currency string, cents int64) {
	txType = payloadString(data, "type")
	currency = payloadString(data, "currency")

	cur, err := valueobjects.NewCurrency(currency)
	if err != nil {
		return txType, currency, 0
	}
	amount, err := valueobjects.NewMoney(payloadString(data, "amount"), cur)
	if err != nil {
		return txType, currency, 0
	}
	return txType, currency, amount.Cents()
}

func payloadString(data map[string]interface{}, key string) string {
	if value, ok := data[key].(string); ok {
		return value
	}
	return ""
}

// ============================================
// Getters
// ============================================

// Config returns the configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the logger.
func (c *Container) Logger() *slog.Logger {
	return c.logger
}

// Pool returns the database connection pool.
func (c *Container) Pool() *pgxpool.Pool {
	return c.pool
}

// HTTPServer returns the HTTP server.
func (c *Container) HTTPServer() *http.Server {
	return c.httpServer
}

// TransactionRepository returns the transaction repository.
func (c *Container) TransactionRepository() ports.TransactionRepository {
	return c.transactionRepo
}

// EventStore returns the outbox store.
func (c *Container) EventStore() ports.EventStore {
	return c.eventStore
}

// Locker returns the record locker.
func (c *Container) Locker() ports.RecordLocker {
	return c.locker
}

// DeadLetterRepository returns the dead-letter repository.
func (c *Container) DeadLetterRepository() ports.DeadLetterRepository {
	return c.deadLetters
}

// UnitOfWork returns the Unit of Work.
func (c *Container) UnitOfWork() ports.UnitOfWork {
	return c.uow
}

// Provider returns the payment provider.
func (c *Container) Provider() ports.PaymentProvider {
	return c.provider
}

// Emitter returns the event emitter.
func (c *Container) Emitter() *appevents.Emitter {
	return c.emitter
}

// Processor returns the outbox processor.
func (c *Container) Processor() *appevents.Processor {
	return c.processor
}

// RetryManager returns the retry manager.
func (c *Container) RetryManager() *retry.Manager {
	return c.retryManager
}

// RecoveryManager returns the recovery manager.
func (c *Container) RecoveryManager() *recovery.Manager {
	return c.recoveryManager
}

// BeginTransactionUseCase returns the transaction submission use case.
func (c *Container) BeginTransactionUseCase() *transaction.BeginTransactionUseCase {
	return c.beginTransactionUC
}

// UpdateStatusUseCase returns the operator status-update use case.
func (c *Container) UpdateStatusUseCase() *transaction.UpdateStatusUseCase {
	return c.updateStatusUC
}

// ============================================
// Run
// ============================================

// Run starts the background workers and serves HTTP until a shutdown signal.
func (c *Container) Run() error {
	c.logger.Info("Starting PayFlow API Server",
		slog.String("version", c.config.App.Version),
		slog.String("environment", c.config.App.Environment),
		slog.String("address", c.config.Server.Address()),
	)

	c.processor.Start()

	// Retry timers do not survive a restart; rebuild them from persisted
	// nextRetryAt metadata before taking traffic.
	restoreCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	restored, err := c.retryManager.RebuildQueue(restoreCtx)
	if err != nil {
		return fmt.Errorf("rebuild retry queue: %w", err)
	}
	if restored > 0 {
		c.logger.Info("Restored scheduled retries", slog.Int("count", restored))
	}

	return c.httpServer.Run()
}

// ============================================
// Shutdown
// ============================================

// Shutdown tears components down in reverse dependency order: stop taking
// traffic, drain the workers, then close the connections they used.
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	var errs []error

	// 1. HTTP server
	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}

	// 2. Outbox processor (waits for the in-flight batch)
	if c.processor != nil {
		if err := c.processor.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("event processor shutdown: %w", err))
		}
	}

	// 3. Retry timers
	if c.retryQueue != nil {
		c.retryQueue.Stop()
	}

	// 4. NATS bridge
	if c.natsBridge != nil {
		c.natsBridge.Close()
	}

	// 5. Provider gateway probe
	if c.gatewayProbe != nil {
		if err := c.gatewayProbe.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gateway probe close: %w", err))
		}
	}

	// 6. Redis
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	// 7. Tracing (flushes buffered spans)
	if c.tracingShutdown != nil {
		if err := c.tracingShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
	}

	// 8. Database (give in-flight transactions time to finish)
	if c.pool != nil {
		done := make(chan struct{})
		go func() {
			c.pool.Close()
			close(done)
		}()

		select {
		case <-done:
			c.logger.Info("Database connection closed")
		case <-ctx.Done():
			c.logger.Warn("Database close timeout")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	c.logger.Info("Container shutdown complete")
	return nil
}

// ============================================
// Builder Pattern (Alternative)
// ============================================

// ContainerBuilder builds a container with selected components replaced,
// used by integration tests to inject a prepared pool or provider.
type ContainerBuilder struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	provider ports.PaymentProvider
}

// NewBuilder creates a builder.
func NewBuilder(cfg *config.Config) *ContainerBuilder {
	return &ContainerBuilder{
		cfg: cfg,
	}
}

// WithLogger sets a custom logger.
func (b *ContainerBuilder) WithLogger(logger *slog.Logger) *ContainerBuilder {
	b.logger = logger
	return b
}

// WithPool sets an existing connection pool.
func (b *ContainerBuilder) WithPool(pool *pgxpool.Pool) *ContainerBuilder {
	b.pool = pool
	return b
}

// WithProvider sets a custom payment provider.
func (b *ContainerBuilder) WithProvider(provider ports.PaymentProvider) *ContainerBuilder {
	b.provider = provider
	return b
}

// Build assembles the container around the injected components.
func (b *ContainerBuilder) Build(ctx context.Context) (*Container, error) {
	c := New(b.cfg)

	if b.logger != nil {
		c.logger = b.logger
	} else {
		c.logger = c.initLogger()
	}

	if err := c.initTracing(ctx); err != nil {
		return nil, err
	}

	if b.pool != nil {
		c.pool = b.pool
	} else {
		if err := c.initDatabase(ctx); err != nil {
			return nil, err
		}
	}

	if err := c.initRedis(ctx); err != nil {
		return nil, err
	}

	c.initRepositories()

	if b.provider != nil {
		c.provider = b.provider
	} else {
		if err := c.initProvider(); err != nil {
			return nil, err
		}
	}

	if err := c.initEventSystem(); err != nil {
		return nil, err
	}
	if err := c.initManagers(); err != nil {
		return nil, err
	}
	c.initUseCases()
	c.initHTTPServer()

	return c, nil
}

// ============================================
// Health Check
// ============================================

// HealthStatus is the aggregated component health.
type HealthStatus struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// Health reports the health of every attached dependency.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Status:  "healthy",
		Version: c.config.App.Version,
		Checks:  make(map[string]string),
	}

	if err := postgres.HealthCheck(ctx, c.pool); err != nil {
		status.Status = "unhealthy"
		status.Checks["database"] = "error: " + err.Error()
	} else {
		status.Checks["database"] = "ok"
	}

	if c.processor != nil && c.processor.Running() {
		status.Checks["event_processor"] = "ok"
	} else {
		status.Status = "unhealthy"
		status.Checks["event_processor"] = "stopped"
	}

	if c.redisClient != nil {
		if err := c.redisClient.Ping(ctx).Err(); err != nil {
			status.Status = "unhealthy"
			status.Checks["redis"] = "error: " + err.Error()
		} else {
			status.Checks["redis"] = "ok"
		}
	}

	return status
}
