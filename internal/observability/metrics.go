package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the runtime's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	// SessionCounter counts session outcomes.
	// Labels: status (started|completed|failed)
	SessionCounter *prometheus.CounterVec

	// ActiveSessions tracks sessions currently inside the loop.
	ActiveSessions prometheus.Gauge

	// IterationCounter counts inner-loop iterations across all sessions.
	IterationCounter prometheus.Counter

	// LLMRequestCounter counts provider calls.
	// Labels: provider, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures provider call latency in seconds.
	// Labels: provider
	LLMRequestDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// MemoryOpCounter counts memory service operations.
	// Labels: operation (remember|recall|search|delete)
	MemoryOpCounter *prometheus.CounterVec

	// EventsDropped counts events lost to saturated subscriber buffers.
	EventsDropped prometheus.Counter

	// HTTPRequestDuration measures API request latency in seconds.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry so repeated
// construction (tests, embedding) never collides with the default registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		SessionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strix_sessions_total",
				Help: "Total number of agent sessions by outcome",
			},
			[]string{"status"},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "strix_active_sessions",
				Help: "Number of sessions currently executing",
			},
		),

		IterationCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "strix_loop_iterations_total",
				Help: "Total number of agent loop iterations",
			},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strix_llm_requests_total",
				Help: "Total number of LLM requests by provider and status",
			},
			[]string{"provider", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strix_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strix_tool_executions_total",
				Help: "Total number of tool invocations by name and status",
			},
			[]string{"tool_name", "status"},
		),

		MemoryOpCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "strix_memory_operations_total",
				Help: "Total number of memory service operations",
			},
			[]string{"operation"},
		),

		EventsDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "strix_events_dropped_total",
				Help: "Events dropped because a subscriber buffer was full",
			},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "strix_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
