package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// Status is the health of the service or of one probe
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is one named health probe. Critical probes take the whole service
// unhealthy when they fail; non-critical ones only degrade it.
type Check struct {
	Name     string
	Probe    func(context.Context) error
	Timeout  time.Duration
	Critical bool
}

// HealthChecker runs registered probes and reports an aggregate status
type HealthChecker struct {
	version string
	started time.Time

	mu     sync.RWMutex
	checks []Check
}

// Report is the JSON body served on /health
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	UptimeSec int64                  `json:"uptime_seconds"`
	Checks    map[string]CheckResult `json:"checks"`
	Runtime   RuntimeInfo            `json:"runtime"`
}

// CheckResult is one probe's outcome inside a Report
type CheckResult struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
}

// RuntimeInfo is a small process snapshot included with every report
type RuntimeInfo struct {
	Goroutines int    `json:"goroutines"`
	MemAllocMB uint64 `json:"mem_alloc_mb"`
}

// NewHealthChecker creates a checker reporting the given version string
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version: version,
		started: time.Now(),
	}
}

// Register adds a probe. A zero timeout defaults to 5s.
func (hc *HealthChecker) Register(c Check) {
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	hc.checks = append(hc.checks, c)
	hc.mu.Unlock()
}

// Run executes every registered probe and aggregates the results
func (hc *HealthChecker) Run(ctx context.Context) Report {
	hc.mu.RLock()
	checks := make([]Check, len(hc.checks))
	copy(checks, hc.checks)
	hc.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	overall := StatusHealthy

	for _, c := range checks {
		result := runProbe(ctx, c)
		results[c.Name] = result

		switch {
		case result.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case result.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return Report{
		Status:    overall,
		Timestamp: time.Now(),
		Version:   hc.version,
		UptimeSec: int64(time.Since(hc.started).Seconds()),
		Checks:    results,
		Runtime: RuntimeInfo{
			Goroutines: runtime.NumGoroutine(),
			MemAllocMB: m.Alloc / 1024 / 1024,
		},
	}
}

// runProbe executes one probe under its timeout. The probe runs in its own
// goroutine so a probe that ignores its context cannot wedge the report.
func runProbe(ctx context.Context, c Check) CheckResult {
	probeCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() { errCh <- c.Probe(probeCtx) }()

	var err error
	select {
	case err = <-errCh:
	case <-probeCtx.Done():
		err = probeCtx.Err()
	}

	result := CheckResult{
		Status:   StatusHealthy,
		Message:  "OK",
		Duration: time.Since(start).String(),
	}
	if err != nil {
		result.Message = err.Error()
		if c.Critical {
			result.Status = StatusUnhealthy
		} else {
			result.Status = StatusDegraded
		}
	}
	return result
}

// Handler serves the full health report; unhealthy maps to 503
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hc.Run(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

// ReadinessHandler serves a readiness probe: ready only when fully healthy
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hc.Run(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status != StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// LivenessHandler serves a static liveness probe
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// PingCheck always succeeds; it proves the checker itself is serving
func PingCheck() Check {
	return Check{
		Name:    "ping",
		Probe:   func(context.Context) error { return nil },
		Timeout: time.Second,
	}
}

// SessionStoreCheck probes the session store; the store is critical because
// no turn can complete without it.
func SessionStoreCheck(probe func(context.Context) error) Check {
	return Check{
		Name:     "session_store",
		Probe:    probe,
		Timeout:  5 * time.Second,
		Critical: true,
	}
}

// ContentProviderCheck probes the document source. Degraded only: chat and
// quiz starts fail per-document, existing threads keep working.
func ContentProviderCheck(probe func(context.Context) error) Check {
	return Check{
		Name:    "content_provider",
		Probe:   probe,
		Timeout: 10 * time.Second,
	}
}
