// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the orchestrator's instrumentation. All collectors live
// on one registry owned here, so tests instantiate their own and the
// binary exposes it at /metrics.
type Metrics struct {
	registry *prometheus.Registry

	tasksSubmitted    *prometheus.CounterVec
	tasksCompleted    *prometheus.CounterVec
	taskDuration      *prometheus.HistogramVec
	policyEvaluations *prometheus.CounterVec
	policyDuration    prometheus.Histogram
	sandboxDuration   *prometheus.HistogramVec
	activeTasks       prometheus.Gauge
	queueDepth        prometheus.Gauge
	reapedTotal       prometheus.Counter
	retainedRecords   prometheus.Gauge
	errorsTotal       *prometheus.CounterVec
	apiRequests       *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.tasksSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_tasks_submitted_total",
		Help: "Tasks accepted by Submit, by kind.",
	}, []string{"kind"})

	m.tasksCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_tasks_completed_total",
		Help: "Tasks reaching a terminal state, by kind and state.",
	}, []string{"kind", "state"})

	m.taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_gateway_task_duration_seconds",
		Help:    "Submit-to-terminal latency, by kind and state.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"kind", "state"})

	m.policyEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_policy_evaluations_total",
		Help: "Policy decisions, by input type and outcome.",
	}, []string{"type", "result"})

	m.policyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mcp_gateway_policy_evaluation_seconds",
		Help:    "Policy evaluation latency.",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
	})

	m.sandboxDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_gateway_sandbox_duration_seconds",
		Help:    "Child process wall-clock runtime, by program.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"program"})

	m.activeTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_gateway_active_tasks",
		Help: "Tasks currently running.",
	})

	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_gateway_queue_depth",
		Help: "Tasks waiting for an executor slot.",
	})

	m.reapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mcp_gateway_reaped_tasks_total",
		Help: "Terminal records evicted by the reaper.",
	})

	m.retainedRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_gateway_retained_records",
		Help: "Records remaining after the latest reap.",
	})

	m.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_errors_total",
		Help: "Errors surfaced to callers, by kind.",
	}, []string{"kind"})

	m.apiRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_api_requests_total",
		Help: "API calls, by surface, method, and status.",
	}, []string{"surface", "method", "status"})

	m.registry.MustRegister(
		m.tasksSubmitted, m.tasksCompleted, m.taskDuration,
		m.policyEvaluations, m.policyDuration, m.sandboxDuration,
		m.activeTasks, m.queueDepth, m.reapedTotal, m.retainedRecords,
		m.errorsTotal, m.apiRequests,
	)
	return m
}

// Registry exposes the prometheus registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) taskSubmitted(kind string) {
	m.tasksSubmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) taskTerminal(kind, state string, sinceSubmit time.Duration) {
	m.tasksCompleted.WithLabelValues(kind, state).Inc()
	m.taskDuration.WithLabelValues(kind, state).Observe(sinceSubmit.Seconds())
}

func (m *Metrics) policyEvaluated(inputType string, allowed bool, took time.Duration) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.policyEvaluations.WithLabelValues(inputType, result).Inc()
	m.policyDuration.Observe(took.Seconds())
}

func (m *Metrics) sandboxRan(program string, took time.Duration) {
	m.sandboxDuration.WithLabelValues(program).Observe(took.Seconds())
}

func (m *Metrics) reaped(count int, retained int) {
	m.reapedTotal.Add(float64(count))
	m.retainedRecords.Set(float64(retained))
}

func (m *Metrics) errorSurfaced(kind string) {
	m.errorsTotal.WithLabelValues(kind).Inc()
}

// APIRequest records one wire-surface call. Exported for the server
// layers.
func (m *Metrics) APIRequest(surface, method, status string) {
	m.apiRequests.WithLabelValues(surface, method, status).Inc()
}
