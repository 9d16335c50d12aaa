// Package metrics holds the Prometheus collectors of the API. Collectors are
// registered on a dedicated registry so tests can build as many instances as
// they need.
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

const namespace = "postpurchase"

// Metrics exposes the collectors updated by services and middleware. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	eventsRecorded  *prometheus.CounterVec
	eventFailures   *prometheus.CounterVec
	offersResolved  prometheus.Histogram
	quotaDenials    *prometheus.CounterVec
	billingCalls    *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
}

// New registers every collector, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests by route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		eventsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "events_recorded_total",
			Help:      "Funnel events stored, by event type.",
		}, []string{"event_type"}),
		eventFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analytics",
			Name:      "event_failures_total",
			Help:      "Funnel events that could not be fully recorded, by stage.",
		}, []string{"stage"}),
		offersResolved: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "offers_resolved",
			Help:      "Number of eligible offers returned per checkout request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 25},
		}),
		quotaDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "usage",
			Name:      "quota_denials_total",
			Help:      "Requests refused because a plan limit was reached, by action.",
		}, []string{"action"}),
		billingCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "calls_total",
			Help:      "Billing API calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Subscription cache lookups by result.",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) EventRecorded(eventType string) {
	if m == nil {
		return
	}
	m.eventsRecorded.WithLabelValues(eventType).Inc()
}

// EventFailed counts a failed recording at stage "event" or "aggregate".
func (m *Metrics) EventFailed(stage string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) OffersResolved(n int) {
	if m == nil {
		return
	}
	m.offersResolved.Observe(float64(n))
}

func (m *Metrics) QuotaDenied(action string) {
	if m == nil {
		return
	}
	m.quotaDenials.WithLabelValues(action).Inc()
}

func (m *Metrics) BillingCall(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.billingCalls.WithLabelValues(operation, outcome).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
