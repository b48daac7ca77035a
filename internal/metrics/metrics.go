package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Tool run metrics
	ToolRunsTotal       *prometheus.CounterVec
	HandlerDuration     *prometheus.HistogramVec
	PolicyDenialsTotal  *prometheus.CounterVec
	SchemaFailuresTotal *prometheus.CounterVec

	// Approval metrics
	ApprovalsRequestedTotal prometheus.Counter
	ApprovalsResolvedTotal  *prometheus.CounterVec
	ApprovalConflictsTotal  prometheus.Counter
	ApprovalsExpiredTotal   prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ToolRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_tool_runs_total",
				Help: "Total number of tool runs by tool and final status",
			},
			[]string{"tool", "status"},
		),
		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gapura_handler_duration_seconds",
				Help:    "Duration of connector handler invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		PolicyDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_policy_denials_total",
				Help: "Total number of policy denials by tool and rule",
			},
			[]string{"tool", "rule"},
		),
		SchemaFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_schema_failures_total",
				Help: "Total number of schema validation failures by tool and side",
			},
			[]string{"tool", "side"},
		),
		ApprovalsRequestedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gapura_approvals_requested_total",
				Help: "Total number of approvals requested",
			},
		),
		ApprovalsResolvedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gapura_approvals_resolved_total",
				Help: "Total number of approvals resolved by outcome",
			},
			[]string{"outcome"},
		),
		ApprovalConflictsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gapura_approval_conflicts_total",
				Help: "Total number of duplicate approval resolution attempts",
			},
		),
		ApprovalsExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gapura_approvals_expired_total",
				Help: "Total number of pending approvals denied by the expiry sweep",
			},
		),
	}

	registry.MustRegister(
		m.ToolRunsTotal,
		m.HandlerDuration,
		m.PolicyDenialsTotal,
		m.SchemaFailuresTotal,
		m.ApprovalsRequestedTotal,
		m.ApprovalsResolvedTotal,
		m.ApprovalConflictsTotal,
		m.ApprovalsExpiredTotal,
	)

	return m
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a finalized tool run
func (m *Metrics) ObserveRun(tool, status string) {
	if m == nil {
		return
	}
	m.ToolRunsTotal.WithLabelValues(tool, status).Inc()
}

// ObserveHandler records a handler invocation duration in seconds
func (m *Metrics) ObserveHandler(tool string, seconds float64) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(tool).Observe(seconds)
}

// ObserveDenial records a policy denial
func (m *Metrics) ObserveDenial(tool, rule string) {
	if m == nil {
		return
	}
	m.PolicyDenialsTotal.WithLabelValues(tool, rule).Inc()
}

// ObserveSchemaFailure records a schema validation failure
func (m *Metrics) ObserveSchemaFailure(tool, side string) {
	if m == nil {
		return
	}
	m.SchemaFailuresTotal.WithLabelValues(tool, side).Inc()
}

// ObserveApprovalRequested records a new pending approval
func (m *Metrics) ObserveApprovalRequested() {
	if m == nil {
		return
	}
	m.ApprovalsRequestedTotal.Inc()
}

// ObserveApprovalResolved records an approval resolution
func (m *Metrics) ObserveApprovalResolved(outcome string) {
	if m == nil {
		return
	}
	m.ApprovalsResolvedTotal.WithLabelValues(outcome).Inc()
}

// ObserveApprovalConflict records a duplicate resolution attempt
func (m *Metrics) ObserveApprovalConflict() {
	if m == nil {
		return
	}
	m.ApprovalConflictsTotal.Inc()
}

// ObserveApprovalExpired records an approval denied by the expiry sweep
func (m *Metrics) ObserveApprovalExpired() {
	if m == nil {
		return
	}
	m.ApprovalsExpiredTotal.Inc()
}
