// Package metrics exposes deployment outcome metrics. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "animus_deploy"

var histogramBuckets = []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200}

type Metrics struct {
	registry *prometheus.Registry

	deployments    *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec
	rollbacks      *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	leaseWait      prometheus.Histogram
	notifyFailures *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
}

// New builds a Metrics backed by its own registry, which also carries the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Terminal deployment outcomes",
		}, []string{"environment", "status"}),
		deployDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deployment_duration_seconds",
			Help:      "Wall time from start to terminal transition",
			Buckets:   histogramBuckets,
		}, []string{"environment", "status"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Rollback outcomes",
		}, []string{"environment", "outcome", "trigger"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of individual orchestration steps",
			Buckets:   histogramBuckets,
		}, []string{"environment", "step", "outcome"}),
		leaseWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lease_wait_seconds",
			Help:      "Time spent waiting for a workspace lease",
			Buckets:   []float64{0.001, 0.01, 0.1, 1, 5, 30, 60, 120},
		}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Status API requests",
		}, []string{"method", "route", "status"}),
	}
	m.registry.MustRegister(
		m.deployments,
		m.deployDuration,
		m.rollbacks,
		m.stepDuration,
		m.leaseWait,
		m.notifyFailures,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveDeployment(environment, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(environment, status).Inc()
	m.deployDuration.WithLabelValues(environment, status).Observe(d.Seconds())
}

// ObserveRollback records a rollback. trigger is "auto" or "manual".
func (m *Metrics) ObserveRollback(environment string, success bool, trigger string) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failed"
	}
	m.rollbacks.WithLabelValues(environment, outcome, trigger).Inc()
}

func (m *Metrics) ObserveStep(environment, step string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.stepDuration.WithLabelValues(environment, step, outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveLeaseWait(d time.Duration) {
	if m == nil {
		return
	}
	m.leaseWait.Observe(d.Seconds())
}

func (m *Metrics) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
