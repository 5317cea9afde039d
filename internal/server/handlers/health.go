package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	apperrors "github.com/3leaps/kbagent/internal/errors"
)

// Check statuses.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusTimeout   = "timeout"
	StatusDegraded  = "degraded"
)

// checkTimeout bounds each checker.
const checkTimeout = 5 * time.Second

// HealthChecker reports the health of one dependency.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthResponse is the body of a healthy /health response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthManager runs registered checkers.
type HealthManager struct {
	version string
	started time.Time

	mu       sync.RWMutex
	checkers map[string]HealthChecker
}

// NewHealthManager returns a manager reporting version.
func NewHealthManager(version string) *HealthManager {
	return &HealthManager{
		version:  version,
		started:  time.Now(),
		checkers: map[string]HealthChecker{},
	}
}

// RegisterChecker adds or replaces a named checker.
func (m *HealthManager) RegisterChecker(name string, checker HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = checker
}

func (m *HealthManager) runChecks(ctx context.Context) map[string]string {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	checkers := make(map[string]HealthChecker, len(m.checkers))
	for k, v := range m.checkers {
		checkers[k] = v
	}
	m.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names))
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := checkers[name].CheckHealth(cctx)
		cancel()
		switch {
		case err == nil:
			results[name] = StatusHealthy
		case errors.Is(err, context.DeadlineExceeded):
			results[name] = StatusTimeout
		default:
			results[name] = StatusUnhealthy
		}
	}
	return results
}

// determineOverallStatus folds check results: any unhealthy check makes the
// whole service unhealthy, a timeout only degrades it.
func (m *HealthManager) determineOverallStatus(results map[string]string) string {
	status := StatusHealthy
	for _, r := range results {
		switch r {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusTimeout:
			status = StatusDegraded
		}
	}
	return status
}

// HealthHandler runs every checker and reports the aggregate.
func (m *HealthManager) HealthHandler(w http.ResponseWriter, r *http.Request) {
	results := m.runChecks(r.Context())
	status := m.determineOverallStatus(results)

	if status == StatusUnhealthy {
		apperrors.WriteJSON(w, http.StatusServiceUnavailable, apperrors.HTTPErrorResponse{
			Error: apperrors.HTTPError{
				Code:      apperrors.CodeServiceUnavailable,
				Message:   "one or more health checks failed",
				RequestID: r.Header.Get(apperrors.RequestIDHeader),
				Details:   map[string]any{"checks": results, "version": m.version},
			},
		})
		return
	}

	apperrors.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(m.started).Round(time.Second).String(),
		Checks:    results,
	})
}

// LivenessHandler reports that the process is serving.
func (m *HealthManager) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, map[string]string{"status": StatusHealthy})
}

// ReadinessHandler is HealthHandler under the readiness route.
func (m *HealthManager) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	m.HealthHandler(w, r)
}

// StartupHandler reports that initialization finished.
func (m *HealthManager) StartupHandler(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, map[string]string{"status": StatusHealthy, "version": m.version})
}

var (
	globalMu            sync.RWMutex
	globalHealthManager *HealthManager
)

// InitHealthManager installs the process-wide manager.
func InitHealthManager(version string) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalHealthManager = NewHealthManager(version)
}

// GetHealthManager returns the process-wide manager, or nil.
func GetHealthManager() *HealthManager {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalHealthManager
}

func withManager(fn func(m *HealthManager, w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := GetHealthManager()
		if m == nil {
			respondWithError(w, r, apperrors.NewExternalServiceError("health manager not initialized"))
			return
		}
		fn(m, w, r)
	}
}

// Global handlers delegate to the process-wide manager and answer 503 until
// InitHealthManager runs.
var (
	HealthHandler    = withManager((*HealthManager).HealthHandler)
	LivenessHandler  = withManager((*HealthManager).LivenessHandler)
	ReadinessHandler = withManager((*HealthManager).ReadinessHandler)
	StartupHandler   = withManager((*HealthManager).StartupHandler)
)
