package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cohenjo/migration-stream/pkg/state"
)

// HealthStatus represents the overall health status of the service
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthChecker defines the interface for health check implementations
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	IsEssential() bool
}

// HealthService runs the registered health checks
type HealthService struct {
	checkers  []HealthChecker
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewHealthService creates a new health service
func NewHealthService(version string) *HealthService {
	return &HealthService{
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// RegisterChecker adds a health checker to the service
func (h *HealthService) RegisterChecker(checker HealthChecker) {
	h.checkers = append(h.checkers, checker)
	log.Debug().Str("checker", checker.Name()).Msg("Health checker registered")
}

// PerformHealthCheck executes all registered health checks. A failing
// essential check makes the service unhealthy, any other failure degrades it.
func (h *HealthService) PerformHealthCheck(ctx context.Context) HealthResponse {
	checks := make(map[string]CheckResult, len(h.checkers))
	overallStatus := HealthStatusHealthy

	for _, checker := range h.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		checkStart := time.Now()
		result := checker.Check(checkCtx)
		cancel()
		result.Duration = time.Since(checkStart)
		result.Timestamp = time.Now()
		checks[checker.Name()] = result

		switch {
		case result.Status == HealthStatusUnhealthy && checker.IsEssential():
			overallStatus = HealthStatusUnhealthy
		case result.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy:
			overallStatus = HealthStatusDegraded
		}

		log.Debug().
			Str("checker", checker.Name()).
			Str("status", string(result.Status)).
			Dur("duration", result.Duration).
			Msg("Health check completed")
	}

	return HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Checks:    checks,
	}
}

// HealthHandler handles HTTP health check requests
type HealthHandler struct {
	healthService *HealthService
}

// NewHealthHandler creates a new health check HTTP handler
func NewHealthHandler(healthService *HealthService) *HealthHandler {
	return &HealthHandler{healthService: healthService}
}

// ServeHTTP implements the http.Handler interface for health checks
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	healthResponse := h.healthService.PerformHealthCheck(r.Context())

	statusCode := http.StatusOK
	if healthResponse.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, statusCode, healthResponse)

	log.Debug().
		Str("status", string(healthResponse.Status)).
		Int("status_code", statusCode).
		Str("remote_addr", r.RemoteAddr).
		Msg("Health check request completed")
}

// DatabaseChecker checks that the source and destination clusters answer
type DatabaseChecker struct {
	essential bool
	ping      func(ctx context.Context) error
}

// NewDatabaseChecker creates a new database health checker
func NewDatabaseChecker(essential bool, ping func(ctx context.Context) error) *DatabaseChecker {
	return &DatabaseChecker{essential: essential, ping: ping}
}

func (d *DatabaseChecker) Name() string      { return "databases" }
func (d *DatabaseChecker) IsEssential() bool { return d.essential }

func (d *DatabaseChecker) Check(ctx context.Context) CheckResult {
	if d.ping == nil {
		return CheckResult{Status: HealthStatusUnhealthy, Error: "ping function not configured"}
	}
	if err := d.ping(ctx); err != nil {
		return CheckResult{Status: HealthStatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: HealthStatusHealthy, Message: "source and destination reachable"}
}

// MigrationChecker reports failed collections as a degraded migration
type MigrationChecker struct {
	migrationState func() state.State
}

// NewMigrationChecker creates a checker over the migration timeline
func NewMigrationChecker(migrationState func() state.State) *MigrationChecker {
	return &MigrationChecker{migrationState: migrationState}
}

func (m *MigrationChecker) Name() string      { return "migration" }
func (m *MigrationChecker) IsEssential() bool { return false }

func (m *MigrationChecker) Check(context.Context) CheckResult {
	failed := 0
	collectionStates := m.migrationState().CollectionStates
	for _, collectionState := range collectionStates {
		if _, ok := collectionState.Step(state.StepFailed); ok {
			failed++
		}
	}
	if failed > 0 {
		return CheckResult{
			Status:  HealthStatusDegraded,
			Message: pluralize(failed, "collection") + " failed",
		}
	}
	return CheckResult{
		Status:  HealthStatusHealthy,
		Message: pluralize(len(collectionStates), "collection") + " in progress",
	}
}
