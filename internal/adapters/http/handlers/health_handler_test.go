package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================
// Test Setup
// ============================================

type stubProviderProbe struct {
	name string
	err  error
}

func (s *stubProviderProbe) Name() string { return s.name }

func (s *stubProviderProbe) HealthCheck(ctx context.Context) error { return s.err }

type stubProcessorStatus struct {
	running bool
}

func (s *stubProcessorStatus) Running() bool { return s.running }

func newHealthTestRouter(provider ProviderHealthChecker, processor ProcessorStatus) (*gin.Engine, *HealthHandler) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	handler := NewHealthHandler(nil, provider, processor, "1.0.0", "2026-01-01T00:00:00Z")
	handler.RegisterRoutes(router)
	return router, handler
}

func getJSON[T any](t *testing.T, router *gin.Engine, path string) (int, T) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var payload T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	return w.Code, payload
}

// ============================================
// Test NewHealthHandler
// ============================================

func TestNewHealthHandler(t *testing.T) {
	handler := NewHealthHandler(nil, nil, nil, "1.2.3", "2026-01-15T10:30:00Z")

	assert.NotNil(t, handler)
	assert.Equal(t, "1.2.3", handler.version)
	assert.Equal(t, "2026-01-15T10:30:00Z", handler.buildTime)
	assert.False(t, handler.startTime.IsZero())
}

// ============================================
// Test Health Endpoint
// ============================================

func TestHealthHandler_Health(t *testing.T) {
	router, _ := newHealthTestRouter(nil, nil)

	code, response := getJSON[HealthResponse](t, router, "/health")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "1.0.0", response.Version)
	assert.Equal(t, "2026-01-01T00:00:00Z", response.BuildTime)
	assert.NotEmpty(t, response.Uptime)
	assert.False(t, response.Timestamp.IsZero())
	assert.Nil(t, response.Checks) // Basic health carries no checks
}

// ============================================
// Test Live Endpoint
// ============================================

func TestHealthHandler_Live(t *testing.T) {
	router, _ := newHealthTestRouter(nil, nil)

	code, response := getJSON[map[string]string](t, router, "/health/live")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", response["status"])
}

// ============================================
// Test Ready Endpoint
// ============================================

func TestHealthHandler_Ready(t *testing.T) {
	t.Run("NothingConfigured_NotReady", func(t *testing.T) {
		router, _ := newHealthTestRouter(nil, nil)

		code, response := getJSON[ReadinessResponse](t, router, "/health/ready")

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.False(t, response.Ready)
		assert.Equal(t, "not configured", response.Checks["database"])
		assert.Equal(t, "not configured", response.Checks["provider"])
		assert.Equal(t, "not configured", response.Checks["event_processor"])
		assert.False(t, response.Timestamp.IsZero())
	})

	t.Run("HealthyProviderAndProcessor_DatabaseStillGates", func(t *testing.T) {
		provider := &stubProviderProbe{name: "simulated"}
		processor := &stubProcessorStatus{running: true}
		router, _ := newHealthTestRouter(provider, processor)

		code, response := getJSON[ReadinessResponse](t, router, "/health/ready")

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.False(t, response.Ready)
		assert.Equal(t, "healthy", response.Checks["provider:simulated"])
		assert.Equal(t, "running", response.Checks["event_processor"])
		assert.Equal(t, "not configured", response.Checks["database"])
	})

	t.Run("ProviderUnhealthy", func(t *testing.T) {
		provider := &stubProviderProbe{name: "simulated", err: errors.New("connection refused")}
		router, _ := newHealthTestRouter(provider, &stubProcessorStatus{running: true})

		code, response := getJSON[ReadinessResponse](t, router, "/health/ready")

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.False(t, response.Ready)
		assert.Equal(t, "unhealthy: connection refused", response.Checks["provider:simulated"])
	})

	t.Run("ProcessorStopped", func(t *testing.T) {
		router, _ := newHealthTestRouter(&stubProviderProbe{name: "simulated"}, &stubProcessorStatus{running: false})

		code, response := getJSON[ReadinessResponse](t, router, "/health/ready")

		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.False(t, response.Ready)
		assert.Equal(t, "stopped", response.Checks["event_processor"])
	})

	t.Run("CancelledRequestContext_StillResponds", func(t *testing.T) {
		router, _ := newHealthTestRouter(&stubProviderProbe{name: "simulated"}, &stubProcessorStatus{running: true})

		req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
		ctx, cancel := context.WithCancel(req.Context())
		cancel()
		req = req.WithContext(ctx)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

// ============================================
// Test DetailedHealth Endpoint
// ============================================

func TestHealthHandler_DetailedHealth(t *testing.T) {
	t.Run("ProcessorRunning_ReportsHealthy", func(t *testing.T) {
		router, _ := newHealthTestRouter(nil, &stubProcessorStatus{running: true})

		code, response := getJSON[HealthResponse](t, router, "/health/detailed")

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", response.Status)
		assert.Equal(t, "1.0.0", response.Version)
		assert.NotEmpty(t, response.Uptime)
		assert.Equal(t, "running", response.Checks["event_processor"])
	})

	t.Run("ProcessorStopped_ReportsUnhealthy", func(t *testing.T) {
		router, _ := newHealthTestRouter(nil, &stubProcessorStatus{running: false})

		code, response := getJSON[HealthResponse](t, router, "/health/detailed")

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "unhealthy", response.Status)
		assert.Equal(t, "stopped", response.Checks["event_processor"])
	})

	t.Run("NoDependencies_ReportsHealthy", func(t *testing.T) {
		router, _ := newHealthTestRouter(nil, nil)

		code, response := getJSON[HealthResponse](t, router, "/health/detailed")

		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "healthy", response.Status)
		assert.Empty(t, response.Checks)
	})
}

// ============================================
// Test RegisterRoutes
// ============================================

func TestHealthHandler_RegisterRoutes(t *testing.T) {
	router, _ := newHealthTestRouter(nil, nil)

	routeMap := make(map[string]string)
	for _, route := range router.Routes() {
		routeMap[route.Path] = route.Method
	}

	assert.Equal(t, "GET", routeMap["/health"])
	assert.Equal(t, "GET", routeMap["/health/live"])
	assert.Equal(t, "GET", routeMap["/health/ready"])
	assert.Equal(t, "GET", routeMap["/health/detailed"])
}

// ============================================
// Benchmark Tests
// ============================================

func BenchmarkHealthHandler_Health(b *testing.B) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHealthHandler(nil, nil, nil, "1.0.0", "2026-01-01T00:00:00Z")
	router.GET("/health", handler.Health)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}

func BenchmarkHealthHandler_Live(b *testing.B) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler := NewHealthHandler(nil, nil, nil, "1.0.0", "2026-01-01T00:00:00Z")
	router.GET("/health/live", handler.Live)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}
}
