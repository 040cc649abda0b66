// Package metrics exposes Prometheus counters for HTTP traffic and approval
// engine outcomes.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/expense-approval/internal/domain/approval"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

const namespace = "expense_approval"

// Metrics owns a registry and the collectors registered in it
type Metrics struct {
	registry *prometheus.Registry

	apiRequestsTotal   *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec
	submissionsTotal   *prometheus.CounterVec
	decisionsTotal     *prometheus.CounterVec
	cancellationsTotal *prometheus.CounterVec
	lookupFailures     *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go runtime
// and process collectors, in a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		apiRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "submissions_total",
				Help:      "Expense submissions by rule type and resulting status",
			},
			[]string{"rule_type", "status"},
		),
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Recorded approver decisions by decision and resulting chain status",
			},
			[]string{"decision", "status"},
		),
		cancellationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cancellations_total",
				Help:      "Cancelled expenses by the status they were cancelled from",
			},
			[]string{"from"},
		),
		lookupFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookup_failures_total",
				Help:      "Failed directory lookups during submission",
			},
			[]string{"dependency", "timeout"},
		),
		notificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notification events handed to the dispatcher by type",
			},
			[]string{"type"},
		),
	}

	m.registry.MustRegister(
		m.apiRequestsTotal,
		m.apiRequestDuration,
		m.submissionsTotal,
		m.decisionsTotal,
		m.cancellationsTotal,
		m.lookupFailures,
		m.notificationsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns the Prometheus scrape handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAPIRequest records one HTTP request
func (m *Metrics) RecordAPIRequest(method, path string, status int, seconds float64) {
	m.apiRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.apiRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

// RecordNotification counts a notification by type
func (m *Metrics) RecordNotification(eventType string) {
	m.notificationsTotal.WithLabelValues(eventType).Inc()
}

// Submitted implements workflow.Observer
func (m *Metrics) Submitted(ruleType string, status domainwf.State) {
	m.submissionsTotal.WithLabelValues(ruleType, status.String()).Inc()
}

// Decided implements workflow.Observer
func (m *Metrics) Decided(decision approval.Decision, status domainwf.State) {
	m.decisionsTotal.WithLabelValues(string(decision), status.String()).Inc()
}

// Cancelled implements workflow.Observer
func (m *Metrics) Cancelled(from domainwf.State) {
	m.cancellationsTotal.WithLabelValues(from.String()).Inc()
}

// LookupFailed implements workflow.Observer
func (m *Metrics) LookupFailed(dependency string, timeout bool) {
	m.lookupFailures.WithLabelValues(dependency, strconv.FormatBool(timeout)).Inc()
}
