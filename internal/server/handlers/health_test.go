package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	err error
}

func (s stubChecker) CheckHealth(ctx context.Context) error {
	return s.err
}

// withGlobalManager swaps the process-wide manager for the duration of a test.
func withGlobalManager(t *testing.T, m *HealthManager) {
	t.Helper()
	globalMu.Lock()
	original := globalHealthManager
	globalHealthManager = m
	globalMu.Unlock()
	t.Cleanup(func() {
		globalMu.Lock()
		globalHealthManager = original
		globalMu.Unlock()
	})
}

func TestHealthHandlerReturnsHealthyStatus(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("ee2", stubChecker{})

	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, StatusHealthy, resp.Checks["ee2"])
}

func TestHealthHandlerReturnsServiceUnavailableWhenUnhealthy(t *testing.T) {
	manager := NewHealthManager("1.2.3")
	manager.RegisterChecker("ee2", stubChecker{err: errors.New("down")})
	manager.RegisterChecker("identity", stubChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-9")
	rec := httptest.NewRecorder()
	manager.HealthHandler(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp struct {
		Error struct {
			Code      string         `json:"code"`
			RequestID string         `json:"request_id"`
			Details   map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
	assert.Equal(t, "req-9", resp.Error.RequestID)

	checks, ok := resp.Error.Details["checks"].(map[string]any)
	require.True(t, ok, "expected checks in error details")
	assert.Equal(t, StatusUnhealthy, checks["ee2"])
	assert.Equal(t, StatusHealthy, checks["identity"])
}

type blockingChecker struct{}

func (blockingChecker) CheckHealth(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunChecksReportsTimeout(t *testing.T) {
	manager := NewHealthManager("dev")
	manager.RegisterChecker("slow", blockingChecker{})

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	results := manager.runChecks(ctx)
	assert.Equal(t, StatusTimeout, results["slow"])
	assert.Equal(t, StatusDegraded, manager.determineOverallStatus(results))
}

func TestDetermineOverallStatus(t *testing.T) {
	manager := NewHealthManager("dev")
	tests := []struct {
		name    string
		results map[string]string
		want    string
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", map[string]string{"a": StatusHealthy, "b": StatusHealthy}, StatusHealthy},
		{"timeout degrades", map[string]string{"a": StatusHealthy, "b": StatusTimeout}, StatusDegraded},
		{"unhealthy wins", map[string]string{"a": StatusTimeout, "b": StatusUnhealthy}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, manager.determineOverallStatus(tt.results))
		})
	}
}

func TestGetHealthManager(t *testing.T) {
	withGlobalManager(t, nil)
	assert.Nil(t, GetHealthManager())

	InitHealthManager("1.0.0")
	require.NotNil(t, GetHealthManager())
}

func TestGlobalHandlers(t *testing.T) {
	withGlobalManager(t, NewHealthManager("test-version"))

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"HealthHandler", HealthHandler},
		{"LivenessHandler", LivenessHandler},
		{"ReadinessHandler", ReadinessHandler},
		{"StartupHandler", StartupHandler},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestGlobalHandlers_WhenNotInitialized(t *testing.T) {
	withGlobalManager(t, nil)

	for _, h := range []http.HandlerFunc{HealthHandler, LivenessHandler, ReadinessHandler, StartupHandler} {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	}
}
