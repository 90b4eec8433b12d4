package observability

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Turn metrics
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgo_turns_total",
			Help: "Total number of conversation turns",
		},
		[]string{"workflow", "status"},
	)

	turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorgo_turn_duration_seconds",
			Help:    "Turn handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	// LLM metrics
	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgo_llm_calls_total",
			Help: "Total number of LLM API calls",
		},
		[]string{"provider", "status"},
	)

	llmCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorgo_llm_call_duration_seconds",
			Help:    "LLM API call duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"provider"},
	)

	// Routing metrics
	routingDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgo_routing_decisions_total",
			Help: "Total number of supervisor routing decisions",
		},
		[]string{"action"},
	)

	routingFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorgo_routing_fallbacks_total",
			Help: "Total number of turns that fell back to the chat workflow",
		},
	)

	// Answer formulation metrics
	fidelityChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorgo_fidelity_checks_total",
			Help: "Total number of answer fidelity checks",
		},
		[]string{"result"},
	)

	// Session metrics
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tutorgo_active_sessions",
			Help: "Number of stored sessions per workflow",
		},
		[]string{"workflow"},
	)

	// System metrics
	memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutorgo_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tutorgo_goroutines",
			Help: "Number of goroutines",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			turnsTotal,
			turnDuration,
			llmCallsTotal,
			llmCallDuration,
			routingDecisionsTotal,
			routingFallbacksTotal,
			fidelityChecksTotal,
			activeSessions,
			memoryUsage,
			goroutines,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordTurn records turn metrics
func RecordTurn(workflow, status string, duration time.Duration) {
	turnsTotal.WithLabelValues(workflow, status).Inc()
	turnDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// RecordLLMCall records LLM call metrics
func RecordLLMCall(provider, status string, duration time.Duration) {
	llmCallsTotal.WithLabelValues(provider, status).Inc()
	llmCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordRoutingDecision records a supervisor routing decision
func RecordRoutingDecision(action string) {
	routingDecisionsTotal.WithLabelValues(action).Inc()
}

// RecordRoutingFallback records a fallback to the chat workflow
func RecordRoutingFallback() {
	routingFallbacksTotal.Inc()
}

// RecordFidelityCheck records a fidelity check result ("pass", "fail", "error")
func RecordFidelityCheck(result string) {
	fidelityChecksTotal.WithLabelValues(result).Inc()
}

// SetActiveSessions sets the stored-session gauge for a workflow
func SetActiveSessions(workflow string, count int) {
	activeSessions.WithLabelValues(workflow).Set(float64(count))
}

// UpdateSystemMetrics refreshes the system gauges
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memoryUsage.Set(float64(m.Alloc))
	goroutines.Set(float64(runtime.NumGoroutine()))
}
