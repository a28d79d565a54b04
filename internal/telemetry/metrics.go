// Package telemetry instruments the orchestrator/worker-loop/tool-server
// path with Prometheus metrics and OpenTelemetry traces, the same two
// libraries the teacher's internal/observability package wired for its
// chat product. Orchestrix is a short-lived CLI rather than a long-running
// service, so there is no HTTP handler exposing /metrics here; Metrics
// exists to be scraped by an embedding process (or dumped via
// prometheus/client_golang/prometheus/testutil in tests) and Tracer to
// feed spans to any OTLP collector configured by TraceConfig.Endpoint.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the counters and histograms the orchestrator, worker
// loop, and tool-server catalog record against as they run.
type Metrics struct {
	// TasksStarted counts StartTask/ApprovePlan/ContinueTaskWithMessage
	// calls by the run phase they begin. Labels: phase (planning|executing).
	TasksStarted *prometheus.CounterVec

	// RunDuration measures a run's wall-clock time from start to a
	// terminal status. Labels: phase, outcome (completed|failed|cancelled).
	RunDuration *prometheus.HistogramVec

	// WorkerDecisions counts worker-loop turns by the action the model
	// chose. Labels: action (tool_call|tool_calls|delegate|complete).
	WorkerDecisions *prometheus.CounterVec

	// ToolCallDuration measures one tool invocation's latency, local or
	// external. Labels: tool, outcome (success|error).
	ToolCallDuration *prometheus.HistogramVec

	// ApprovalsResolved counts human-in-the-loop approval decisions.
	// Labels: decision (approved|denied).
	ApprovalsResolved *prometheus.CounterVec

	// CatalogRefreshDuration measures one external tool-server discovery
	// sweep (spec.md §4.10).
	CatalogRefreshDuration prometheus.Histogram
}

// NewMetrics registers a fresh metric set against reg. Passing nil uses
// prometheus.DefaultRegisterer, matching promauto's own default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TasksStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrix_tasks_started_total",
				Help: "Total number of task runs started, by phase.",
			},
			[]string{"phase"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrix_run_duration_seconds",
				Help:    "Run wall-clock duration from start to a terminal status.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"phase", "outcome"},
		),
		WorkerDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrix_worker_decisions_total",
				Help: "Worker-loop turns, by the action the model chose.",
			},
			[]string{"action"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrix_tool_call_duration_seconds",
				Help:    "Tool invocation latency, local or external.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool", "outcome"},
		),
		ApprovalsResolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrix_approvals_resolved_total",
				Help: "Human-in-the-loop approval decisions, by outcome.",
			},
			[]string{"decision"},
		),
		CatalogRefreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orchestrix_tool_catalog_refresh_duration_seconds",
				Help:    "Duration of one external tool-server discovery sweep.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
	}
}
