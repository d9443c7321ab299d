// Package handlers - Health check handlers.
//
// Two kinds of probes:
// - Liveness: the process is up (restart it if not).
// - Readiness: the process can take traffic (DB reachable, provider
//   responding, event processor running).
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/payflowhq/payflow/internal/adapters/http/middleware"
)

// ProviderHealthChecker probes the payment provider connection.
type ProviderHealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// ProcessorStatus reports whether the background event processor is running.
type ProcessorStatus interface {
	Running() bool
}

// ============================================
// Health Check Handler
// ============================================

// HealthHandler serves the health probes.
type HealthHandler struct {
	pool      *pgxpool.Pool
	provider  ProviderHealthChecker
	processor ProcessorStatus
	version   string
	buildTime string
	startTime time.Time
}

// NewHealthHandler creates a HealthHandler. provider and processor may be
// nil; their checks then report "not configured".
func NewHealthHandler(
	pool *pgxpool.Pool,
	provider ProviderHealthChecker,
	processor ProcessorStatus,
	version, buildTime string,
) *HealthHandler {
	return &HealthHandler{
		pool:      pool,
		provider:  provider,
		processor: processor,
		version:   version,
		buildTime: buildTime,
		startTime: time.Now(),
	}
}

// ============================================
// Response Types
// ============================================

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	BuildTime string            `json:"build_time"`
	Uptime    string            `json:"uptime"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness probe payload.
type ReadinessResponse struct {
	Ready     bool              `json:"ready"`
	Checks    map[string]string `json:"checks"`
	Timestamp time.Time         `json:"timestamp"`
}

// ============================================
// HTTP Handlers
// ============================================

// Health returns the basic health status.
//
// @Summary Health check
// @Description Basic health check endpoint
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	uptime := time.Since(h.startTime).Round(time.Second).String()

	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		BuildTime: h.buildTime,
		Uptime:    uptime,
		Timestamp: time.Now().UTC(),
	})
}

// Ready checks all dependencies the service needs to take traffic.
//
// @Summary Readiness check
// @Description Readiness probe - checks the database, the payment provider and the event processor
// @Tags Health
// @Produce json
// @Success 200 {object} ReadinessResponse
// @Failure 503 {object} ReadinessResponse
// @Router /health/ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	checks := make(map[string]string)
	allReady := true

	if h.pool != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.pool.Ping(ctx); err != nil {
			checks["database"] = "unhealthy: " + err.Error()
			allReady = false
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "not configured"
		allReady = false
	}

	if h.provider != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.provider.HealthCheck(ctx); err != nil {
			checks["provider:"+h.provider.Name()] = "unhealthy: " + err.Error()
			allReady = false
		} else {
			checks["provider:"+h.provider.Name()] = "healthy"
		}
	} else {
		checks["provider"] = "not configured"
	}

	if h.processor != nil {
		if h.processor.Running() {
			checks["event_processor"] = "running"
		} else {
			checks["event_processor"] = "stopped"
			allReady = false
		}
	} else {
		checks["event_processor"] = "not configured"
	}

	statusCode := http.StatusOK
	if !allReady {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Ready:     allReady,
		Checks:    checks,
		Timestamp: time.Now().UTC(),
	})
}

// Live reports process liveness.
//
// @Summary Liveness check
// @Description Simple liveness probe
// @Tags Health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health/live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
	})
}

// DetailedHealth returns per-dependency detail including pool stats.
//
// @Summary Detailed health check
// @Description Detailed health information including connection pool stats
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health/detailed [get]
func (h *HealthHandler) DetailedHealth(c *gin.Context) {
	checks := make(map[string]string)

	if h.pool != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := h.pool.Ping(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			stats := h.pool.Stat()
			checks["database"] = "healthy"
			checks["db_total_conns"] = strconv.Itoa(int(stats.TotalConns()))
			checks["db_idle_conns"] = strconv.Itoa(int(stats.IdleConns()))
			checks["db_acquired_conns"] = strconv.Itoa(int(stats.AcquiredConns()))

			middleware.UpdateDBConnections(stats.IdleConns(), stats.AcquiredConns(), stats.MaxConns())
		}
	}

	if h.processor != nil {
		if h.processor.Running() {
			checks["event_processor"] = "running"
		} else {
			checks["event_processor"] = "stopped"
		}
	}

	status := "healthy"
	for _, v := range checks {
		if v == "unhealthy" || v == "stopped" {
			status = "unhealthy"
			break
		}
	}

	uptime := time.Since(h.startTime).Round(time.Second).String()

	c.JSON(http.StatusOK, HealthResponse{
		Status:    status,
		Version:   h.version,
		BuildTime: h.buildTime,
		Uptime:    uptime,
		Timestamp: time.Now().UTC(),
		Checks:    checks,
	})
}

// RegisterRoutes registers the health probe routes.
//
// Routes:
// - GET /health          - Basic health check
// - GET /health/live     - Liveness probe
// - GET /health/ready    - Readiness probe
// - GET /health/detailed - Detailed health with pool stats
func (h *HealthHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/health/live", h.Live)
	router.GET("/health/ready", h.Ready)
	router.GET("/health/detailed", h.DetailedHealth)
}
