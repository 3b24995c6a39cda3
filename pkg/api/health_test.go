package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohenjo/migration-stream/pkg/state"
)

type staticChecker struct {
	name      string
	essential bool
	status    HealthStatus
}

func (c staticChecker) Name() string      { return c.name }
func (c staticChecker) IsEssential() bool { return c.essential }
func (c staticChecker) Check(context.Context) CheckResult {
	return CheckResult{Status: c.status}
}

func TestPerformHealthCheck(t *testing.T) {
	tests := []struct {
		name     string
		checkers []HealthChecker
		want     HealthStatus
	}{
		{
			name: "all healthy",
			checkers: []HealthChecker{
				staticChecker{name: "a", essential: true, status: HealthStatusHealthy},
				staticChecker{name: "b", status: HealthStatusHealthy},
			},
			want: HealthStatusHealthy,
		},
		{
			name: "optional check unhealthy",
			checkers: []HealthChecker{
				staticChecker{name: "a", essential: true, status: HealthStatusHealthy},
				staticChecker{name: "b", status: HealthStatusUnhealthy},
			},
			want: HealthStatusDegraded,
		},
		{
			name: "essential check unhealthy",
			checkers: []HealthChecker{
				staticChecker{name: "a", status: HealthStatusDegraded},
				staticChecker{name: "b", essential: true, status: HealthStatusUnhealthy},
			},
			want: HealthStatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := NewHealthService("test")
			for _, checker := range tt.checkers {
				service.RegisterChecker(checker)
			}

			response := service.PerformHealthCheck(context.Background())
			assert.Equal(t, tt.want, response.Status)
			assert.Len(t, response.Checks, len(tt.checkers))
			assert.Equal(t, "test", response.Version)
		})
	}
}

func TestDatabaseChecker(t *testing.T) {
	healthy := NewDatabaseChecker(true, func(context.Context) error { return nil })
	assert.Equal(t, HealthStatusHealthy, healthy.Check(context.Background()).Status)

	down := NewDatabaseChecker(true, func(context.Context) error { return errors.New("destination: connection refused") })
	result := down.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, result.Status)
	assert.Equal(t, "destination: connection refused", result.Error)

	assert.Equal(t, HealthStatusUnhealthy, NewDatabaseChecker(true, nil).Check(context.Background()).Status)
}

func TestMigrationChecker(t *testing.T) {
	info := state.NewStateInfo(nil)
	checker := NewMigrationChecker(info.MigrationState)

	info.Notify(state.StartEvent(testMapping))
	result := checker.Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, result.Status)
	assert.Equal(t, "1 collection in progress", result.Message)

	info.Notify(state.FailedEvent(testMapping, errors.New("restore failed")))
	result = checker.Check(context.Background())
	assert.Equal(t, HealthStatusDegraded, result.Status)
	assert.Equal(t, "1 collection failed", result.Message)
}

func TestHealthEndpoint(t *testing.T) {
	migration := newMockMigration()
	server := newTestServer(migration)

	w := serve(server, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))

	migration.pingErr = errors.New("source: server selection timeout")
	w = serve(server, http.MethodGet, "/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response HealthResponse
	decode(t, w, &response)
	assert.Equal(t, HealthStatusUnhealthy, response.Status)
	assert.Equal(t, "source: server selection timeout", response.Checks["databases"].Error)
}
