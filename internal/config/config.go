// Package config - Application configuration management.
//
// Uses Viper for:
// - Loading from YAML files
// - Environment variables
// - Default values
//
// Priority order (highest to lowest):
// 1. Environment variables
// 2. Config file
// 3. Default values
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ============================================
// Main Configuration
// ============================================

// Config is the root application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Events    EventsConfig    `mapstructure:"events"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Locks     LockConfig      `mapstructure:"locks"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Messaging MessagingConfig `mapstructure:"messaging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

// ============================================
// App Configuration
// ============================================

// AppConfig identifies the application instance.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	BuildTime   string `mapstructure:"build_time"`
}

// IsDevelopment reports whether the environment is development.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the environment is production.
func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// ============================================
// Server Configuration
// ============================================

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the full listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ============================================
// Database Configuration
// ============================================

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int32         `mapstructure:"max_connections"`
	MinConnections  int32         `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// ============================================
// Auth Configuration
// ============================================

// AuthConfig configures operator token verification.
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer"`
	AccessTokenExpiry time.Duration `mapstructure:"access_token_expiry"`
	EnableMockAuth    bool          `mapstructure:"enable_mock_auth"` // development only
}

// ============================================
// Events Configuration
// ============================================

// EventsConfig configures the outbox processor.
type EventsConfig struct {
	ProcessingIntervalMS int `mapstructure:"processing_interval_ms"`
	MaxRetries           int `mapstructure:"max_retries"`
	BatchSize            int `mapstructure:"batch_size"`
	RetentionHours       int `mapstructure:"retention_hours"`
}

// ProcessingInterval returns the outbox polling interval.
func (c *EventsConfig) ProcessingInterval() time.Duration {
	return time.Duration(c.ProcessingIntervalMS) * time.Millisecond
}

// Retention returns how long processed events are kept before pruning.
func (c *EventsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// ============================================
// Retry Configuration
// ============================================

// RetryConfig configures the transaction retry policy.
type RetryConfig struct {
	MaxAttempts    int    `mapstructure:"max_attempts"`
	InitialDelayMS int    `mapstructure:"initial_delay_ms"`
	MaxDelayMS     int    `mapstructure:"max_delay_ms"`
	Backoff        string `mapstructure:"backoff"` // fixed, exponential
}

// InitialDelay returns the delay before the first retry.
func (c *RetryConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMS) * time.Millisecond
}

// MaxDelay returns the delay ceiling.
func (c *RetryConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMS) * time.Millisecond
}

// ============================================
// Lock Configuration
// ============================================

// LockConfig configures the record locker.
type LockConfig struct {
	TTLMS int `mapstructure:"ttl_ms"`
}

// TTL returns the lock lifetime.
func (c *LockConfig) TTL() time.Duration {
	return time.Duration(c.TTLMS) * time.Millisecond
}

// ============================================
// Limits Configuration
// ============================================

// LimitsConfig configures customer spend caps as decimal strings in the
// transaction's own currency. Empty strings disable the respective check.
type LimitsConfig struct {
	SingleMax string `mapstructure:"single_max"`
	DailyMax  string `mapstructure:"daily_max"`
}

// ============================================
// Provider Configuration
// ============================================

// ProvidersConfig configures the payment provider adapter.
type ProvidersConfig struct {
	// Name of the active provider
	Name string `mapstructure:"name"`
	// LatencyMS is the artificial latency of the simulated provider
	LatencyMS int `mapstructure:"latency_ms"`
	// GRPCAddr of the provider gateway health service; empty disables the probe
	GRPCAddr string `mapstructure:"grpc_addr"`
	// WebhookSecrets maps provider names to HMAC secrets. Populated from
	// <PROVIDER>_WEBHOOK_SECRET environment variables, not from files.
	WebhookSecrets map[string]string `mapstructure:"-"`
}

// Latency returns the simulated provider latency.
func (c *ProvidersConfig) Latency() time.Duration {
	return time.Duration(c.LatencyMS) * time.Millisecond
}

// ============================================
// Messaging Configuration
// ============================================

// MessagingConfig configures the NATS event bridge.
type MessagingConfig struct {
	// NATSURL of the broker; empty disables the bridge
	NATSURL string `mapstructure:"nats_url"`
}

// ============================================
// Redis Configuration
// ============================================

// RedisConfig configures the shared rate-limit counter store.
type RedisConfig struct {
	// Addr of the Redis server; empty keeps rate limiting in-process
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ============================================
// Tracing Configuration
// ============================================

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	// Endpoint of the OTLP/HTTP collector; empty disables export
	Endpoint string `mapstructure:"endpoint"`
	// SampleRatio of traces to record; zero means record everything
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ============================================
// CORS Configuration
// ============================================

// CORSConfig configures cross-origin access in production.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ============================================
// Rate Limit Configuration
// ============================================

// RateLimitConfig configures request throttling.
type RateLimitConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	RequestsPerMinute       int  `mapstructure:"requests_per_minute"`
	TransactionOpsPerMinute int  `mapstructure:"transaction_ops_per_minute"`
}

// ============================================
// Log Configuration
// ============================================

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, stderr
}

// ============================================
// Configuration Loading
// ============================================

// Load reads configuration from a file and environment variables.
//
// configPath is the directory holding the configuration (e.g. "configs"),
// configName the file name without extension (e.g. "config").
//
// Supported formats: yaml, json, toml.
func Load(configPath, configName string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/payflow")

	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file found: defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Providers.WebhookSecrets = webhookSecretsFromEnv(os.Environ())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv reads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PAYFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Providers.WebhookSecrets = webhookSecretsFromEnv(os.Environ())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults installs the default values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "PayFlow")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", true)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "payflow")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "change-me-in-production")
	v.SetDefault("auth.jwt_issuer", "payflow")
	v.SetDefault("auth.access_token_expiry", "15m")
	v.SetDefault("auth.enable_mock_auth", true)

	// Event processor defaults
	v.SetDefault("events.processing_interval_ms", 5000)
	v.SetDefault("events.max_retries", 3)
	v.SetDefault("events.batch_size", 50)
	v.SetDefault("events.retention_hours", 24)

	// Retry policy defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay_ms", 1000)
	v.SetDefault("retry.max_delay_ms", 60000)
	v.SetDefault("retry.backoff", "exponential")

	// Lock defaults
	v.SetDefault("locks.ttl_ms", 30000)

	// Limits defaults: unset disables both checks
	v.SetDefault("limits.single_max", "")
	v.SetDefault("limits.daily_max", "")

	// Provider defaults
	v.SetDefault("providers.name", "simulated")
	v.SetDefault("providers.latency_ms", 0)
	v.SetDefault("providers.grpc_addr", "")

	// Messaging defaults
	v.SetDefault("messaging.nats_url", "")

	// Redis defaults
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Tracing defaults
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)

	// CORS defaults
	v.SetDefault("cors.allowed_origins", []string{"*"})

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 100)
	v.SetDefault("rate_limit.transaction_ops_per_minute", 30)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
}

// bindEnvVars binds the bare environment names used in deployment manifests
// alongside the PAYFLOW_* forms.
func bindEnvVars(v *viper.Viper) {
	// Database
	_ = v.BindEnv("database.host", "PAYFLOW_DATABASE_HOST", "DB_HOST")
	_ = v.BindEnv("database.port", "PAYFLOW_DATABASE_PORT", "DB_PORT")
	_ = v.BindEnv("database.user", "PAYFLOW_DATABASE_USER", "DB_USER")
	_ = v.BindEnv("database.password", "PAYFLOW_DATABASE_PASSWORD", "DB_PASSWORD")
	_ = v.BindEnv("database.database", "PAYFLOW_DATABASE_DATABASE", "DB_NAME")
	_ = v.BindEnv("database.ssl_mode", "PAYFLOW_DATABASE_SSL_MODE", "DB_SSLMODE")
	_ = v.BindEnv("database.max_connections", "PAYFLOW_DATABASE_MAX_CONNECTIONS", "DB_MAX_CONNS")

	// Auth
	_ = v.BindEnv("auth.jwt_secret", "PAYFLOW_AUTH_JWT_SECRET", "JWT_SECRET")

	// Server
	_ = v.BindEnv("server.host", "PAYFLOW_SERVER_HOST", "HTTP_HOST")
	_ = v.BindEnv("server.port", "PAYFLOW_SERVER_PORT", "HTTP_PORT", "PORT")

	// App
	_ = v.BindEnv("app.environment", "PAYFLOW_APP_ENVIRONMENT", "ENVIRONMENT", "ENV")

	// Event processor
	_ = v.BindEnv("events.processing_interval_ms", "PAYFLOW_EVENTS_PROCESSING_INTERVAL_MS", "EVENT_PROCESSING_INTERVAL_MS")
	_ = v.BindEnv("events.max_retries", "PAYFLOW_EVENTS_MAX_RETRIES", "EVENT_MAX_RETRIES")
	_ = v.BindEnv("events.batch_size", "PAYFLOW_EVENTS_BATCH_SIZE", "EVENT_BATCH_SIZE")
	_ = v.BindEnv("events.retention_hours", "PAYFLOW_EVENTS_RETENTION_HOURS", "EVENT_RETENTION_HOURS")

	// Retry policy
	_ = v.BindEnv("retry.max_attempts", "PAYFLOW_RETRY_MAX_ATTEMPTS", "RETRY_MAX_ATTEMPTS")
	_ = v.BindEnv("retry.initial_delay_ms", "PAYFLOW_RETRY_INITIAL_DELAY_MS", "RETRY_INITIAL_DELAY_MS")
	_ = v.BindEnv("retry.max_delay_ms", "PAYFLOW_RETRY_MAX_DELAY_MS", "RETRY_MAX_DELAY_MS")
	_ = v.BindEnv("retry.backoff", "PAYFLOW_RETRY_BACKOFF", "RETRY_BACKOFF")

	// Locks
	_ = v.BindEnv("locks.ttl_ms", "PAYFLOW_LOCKS_TTL_MS", "LOCK_TTL_MS")

	// Limits
	_ = v.BindEnv("limits.single_max", "PAYFLOW_LIMITS_SINGLE_MAX", "LIMITS_SINGLE_MAX")
	_ = v.BindEnv("limits.daily_max", "PAYFLOW_LIMITS_DAILY_MAX", "LIMITS_DAILY_MAX")

	// Providers
	_ = v.BindEnv("providers.name", "PAYFLOW_PROVIDERS_NAME", "PROVIDER_NAME")
	_ = v.BindEnv("providers.grpc_addr", "PAYFLOW_PROVIDERS_GRPC_ADDR", "PROVIDER_GRPC_ADDR")

	// Messaging
	_ = v.BindEnv("messaging.nats_url", "PAYFLOW_MESSAGING_NATS_URL", "NATS_URL")

	// Redis
	_ = v.BindEnv("redis.addr", "PAYFLOW_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "PAYFLOW_REDIS_PASSWORD", "REDIS_PASSWORD")

	// Tracing
	_ = v.BindEnv("tracing.endpoint", "PAYFLOW_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")

	// Log
	_ = v.BindEnv("log.level", "PAYFLOW_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "PAYFLOW_LOG_FORMAT", "LOG_FORMAT")
}

// webhookSecretsFromEnv collects <PROVIDER>_WEBHOOK_SECRET variables into a
// map keyed by provider name. Viper cannot enumerate unknown keys, so the scan
// walks the raw environment. Names are lowercased to match webhook routes.
func webhookSecretsFromEnv(environ []string) map[string]string {
	secrets := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		key = strings.TrimPrefix(key, "PAYFLOW_")
		provider, found := strings.CutSuffix(key, "_WEBHOOK_SECRET")
		if !found || provider == "" {
			continue
		}
		secrets[strings.ToLower(provider)] = value
	}
	return secrets
}

// ============================================
// Configuration Validation
// ============================================

// Validate rejects unusable configurations at startup.
func (c *Config) Validate() error {
	if c.App.IsProduction() {
		if c.Auth.JWTSecret == "change-me-in-production" {
			return fmt.Errorf("JWT secret must be changed in production")
		}
		if c.Auth.EnableMockAuth {
			return fmt.Errorf("mock auth must be disabled in production")
		}
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Retry.Backoff != "fixed" && c.Retry.Backoff != "exponential" {
		return fmt.Errorf("invalid retry backoff strategy: %q", c.Retry.Backoff)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Events.BatchSize < 1 {
		return fmt.Errorf("event batch size must be at least 1, got %d", c.Events.BatchSize)
	}
	if c.Events.ProcessingIntervalMS < 1 {
		return fmt.Errorf("event processing interval must be positive, got %dms", c.Events.ProcessingIntervalMS)
	}
	if c.Locks.TTLMS < 1 {
		return fmt.Errorf("lock TTL must be positive, got %dms", c.Locks.TTLMS)
	}

	return nil
}

// ============================================
// Development Helpers
// ============================================

// Development returns a configuration for local development.
func Development() *Config {
	return &Config{
		App: AppConfig{
			Name:        "PayFlow",
			Version:     "dev",
			Environment: "development",
			Debug:       true,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "postgres",
			Database:        "payflow",
			SSLMode:         "disable",
			MaxConnections:  10,
			MinConnections:  2,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
		},
		Auth: AuthConfig{
			JWTSecret:         "dev-secret-key",
			JWTIssuer:         "payflow-dev",
			AccessTokenExpiry: 15 * time.Minute,
			EnableMockAuth:    true,
		},
		Events: EventsConfig{
			ProcessingIntervalMS: 5000,
			MaxRetries:           3,
			BatchSize:            50,
			RetentionHours:       24,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialDelayMS: 1000,
			MaxDelayMS:     60000,
			Backoff:        "exponential",
		},
		Locks: LockConfig{
			TTLMS: 30000,
		},
		Limits: LimitsConfig{
			SingleMax: "10000.00",
			DailyMax:  "50000.00",
		},
		Providers: ProvidersConfig{
			Name:           "simulated",
			WebhookSecrets: map[string]string{"simulated": "dev-webhook-secret"},
		},
		Tracing: TracingConfig{
			SampleRatio: 1.0,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		RateLimit: RateLimitConfig{
			Enabled:                 true,
			RequestsPerMinute:       100,
			TransactionOpsPerMinute: 30,
		},
		Log: LogConfig{
			Level:  "debug",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Test returns a configuration for tests.
func Test() *Config {
	cfg := Development()
	cfg.App.Environment = "test"
	cfg.Database.Database = "payflow_test"
	cfg.Events.ProcessingIntervalMS = 50
	cfg.Retry.InitialDelayMS = 10
	cfg.Retry.MaxDelayMS = 100
	cfg.Log.Level = "error" // keep test output quiet
	return cfg
}
