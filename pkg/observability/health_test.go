package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failingCheck(name string, critical bool) Check {
	return Check{
		Name:     name,
		Probe:    func(context.Context) error { return errors.New("connection refused") },
		Timeout:  time.Second,
		Critical: critical,
	}
}

func TestRun_AggregatesStatuses(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.Register(PingCheck())

	report := hc.Run(context.Background())
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "test", report.Version)
	require.Contains(t, report.Checks, "ping")
	assert.Equal(t, StatusHealthy, report.Checks["ping"].Status)

	hc.Register(failingCheck("content_provider", false))
	report = hc.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status, "a non-critical failure only degrades")

	hc.Register(failingCheck("session_store", true))
	report = hc.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, "connection refused", report.Checks["session_store"].Message)
}

func TestRun_ProbeTimeout(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.Register(Check{
		Name: "stuck",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Timeout:  10 * time.Millisecond,
		Critical: true,
	})

	report := hc.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Checks["stuck"].Message)
}

func TestHandler_UnhealthyReturns503(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.Register(failingCheck("session_store", true))

	rec := httptest.NewRecorder()
	hc.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusUnhealthy, report.Status)
}

func TestReadinessHandler(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.Register(PingCheck())

	rec := httptest.NewRecorder()
	hc.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Degraded is not ready either; readiness gates traffic strictly
	hc.Register(failingCheck("content_provider", false))
	rec = httptest.NewRecorder()
	hc.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewServer_RoutesOpsEndpoints(t *testing.T) {
	hc := NewHealthChecker("test")
	hc.Register(PingCheck())
	srv := NewServer(0, hc)

	for _, path := range []string{"/health", "/health/live", "/health/ready", "/metrics"} {
		rec := httptest.NewRecorder()
		srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}
