// Package metrics exposes gatekeeper counters to Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatekeeper"

type Metrics struct {
	registry *prometheus.Registry

	authResults     *prometheus.CounterVec
	quotaDecisions  *prometheus.CounterVec
	cacheErrors     *prometheus.CounterVec
	backgroundTasks *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		authResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_results_total",
			Help:      "Credential resolution outcomes.",
		}, []string{"result"}),
		quotaDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_decisions_total",
			Help:      "Quota enforcement decisions by scope.",
		}, []string{"scope", "decision"}),
		cacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Shared cache failures; quota fails open on these.",
		}, []string{"op"}),
		backgroundTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_tasks_total",
			Help:      "Fire-and-forget task outcomes.",
		}, []string{"task", "outcome"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request latency as seen by the audit recorder.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AuthResult(result string) {
	if m == nil {
		return
	}
	m.authResults.WithLabelValues(result).Inc()
}

func (m *Metrics) QuotaDecision(scope, decision string) {
	if m == nil {
		return
	}
	m.quotaDecisions.WithLabelValues(scope, decision).Inc()
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.cacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) BackgroundTask(task, outcome string) {
	if m == nil {
		return
	}
	m.backgroundTasks.WithLabelValues(task, outcome).Inc()
}

func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(d.Seconds())
}
