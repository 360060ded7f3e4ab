// Package metrics exposes Prometheus collectors for the contact form service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes.
const (
	OutcomeAccepted   = "accepted"
	OutcomeInvalid    = "invalid"
	OutcomePoolError  = "pool_error"
	OutcomeQueryError = "query_error"
	OutcomeInternal   = "internal_error"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	submissionsTotal           *prometheus.CounterVec
	poolAcquireSeconds         *prometheus.HistogramVec
	poolRecyclesTotal          prometheus.Counter
	notificationFailuresTotal  *prometheus.CounterVec

	leaseSource atomic.Value // func() int

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contact_form_submissions_total",
				Help: "Total number of contact form submissions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		poolAcquireSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contact_db_pool_acquire_seconds",
				Help:    "Time spent waiting for a pooled connection, labeled by result.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"result"},
		)

		poolRecyclesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "contact_db_pool_recycles_total",
				Help: "Total number of connection pool recycles.",
			},
		)

		promauto.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "contact_db_pool_leases",
				Help: "Number of connections currently leased from the pool.",
			},
			func() float64 {
				if fn, ok := leaseSource.Load().(func() int); ok && fn != nil {
					return float64(fn())
				}
				return 0
			},
		)

		notificationFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contact_notification_failures_total",
				Help: "Total number of submission notifications that failed to publish, labeled by backend.",
			},
			[]string{"backend"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSubmission counts a submission by outcome.
func ObserveSubmission(outcome string) {
	submissionsTotal.WithLabelValues(outcome).Inc()
}

// ObservePoolAcquire records how long an acquire took and whether it succeeded.
func ObservePoolAcquire(wait time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	poolAcquireSeconds.WithLabelValues(result).Observe(wait.Seconds())
}

// ObservePoolRecycle counts a pool recycle.
func ObservePoolRecycle() {
	poolRecyclesTotal.Inc()
}

// ObserveNotificationFailure counts a failed notification publish.
func ObserveNotificationFailure(backend string) {
	notificationFailuresTotal.WithLabelValues(backend).Inc()
}

// SetLeaseSource wires the lease gauge to fn.
func SetLeaseSource(fn func() int) {
	leaseSource.Store(fn)
}
