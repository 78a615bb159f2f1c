// Package metrics exposes Prometheus collectors for the scraper service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsTotal             *prometheus.CounterVec
	fetchAttemptsTotal    *prometheus.CounterVec
	fetchDurationSeconds  *prometheus.HistogramVec
	breakerTransitions    *prometheus.CounterVec
	throttleWaitSeconds   *prometheus.HistogramVec
	queueDepthGauge       prometheus.Gauge
	activeWorkersGauge    prometheus.Gauge
	browserPoolInUseGauge prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraperd_jobs_total",
				Help: "Total number of jobs reaching a terminal state, labeled by status and error code.",
			},
			[]string{"status", "code"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraperd_fetch_attempts_total",
				Help: "Total fetch attempts, labeled by backend and outcome.",
			},
			[]string{"backend", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraperd_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by backend.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"backend"},
		)

		breakerTransitions = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraperd_breaker_transitions_total",
				Help: "Circuit breaker state transitions, labeled by host and new state.",
			},
			[]string{"host", "state"},
		)

		throttleWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraperd_throttle_wait_seconds",
				Help:    "Time spent waiting on the domain throttle, labeled by host.",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"host"},
		)

		queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scraperd_queue_depth",
			Help: "Current number of jobs waiting in the submission queue.",
		})

		activeWorkersGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scraperd_active_workers",
			Help: "Number of workers currently executing a job.",
		})

		browserPoolInUseGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scraperd_browser_pool_in_use",
			Help: "Browser instances currently checked out of the pool.",
		})
	})
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveJobTerminal records a job reaching its terminal state.
func ObserveJobTerminal(status, code string) {
	Init()
	if code == "" {
		code = "none"
	}
	jobsTotal.WithLabelValues(status, code).Inc()
}

// ObserveFetchAttempt records one attempt against a backend.
func ObserveFetchAttempt(backend, outcome string, duration time.Duration) {
	Init()
	fetchAttemptsTotal.WithLabelValues(backend, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(backend).Observe(duration.Seconds())
}

// ObserveBreakerTransition records a circuit state change for a host.
func ObserveBreakerTransition(host, state string) {
	Init()
	breakerTransitions.WithLabelValues(host, state).Inc()
}

// ObserveThrottleWait records time spent blocked on the domain throttle.
func ObserveThrottleWait(host string, wait time.Duration) {
	Init()
	throttleWaitSeconds.WithLabelValues(host).Observe(wait.Seconds())
}

// SetQueueDepth updates the submission queue depth gauge.
func SetQueueDepth(n int) {
	Init()
	queueDepthGauge.Set(float64(n))
}

// WorkerStarted marks a worker as busy.
func WorkerStarted() {
	Init()
	activeWorkersGauge.Inc()
}

// WorkerFinished marks a worker as idle again.
func WorkerFinished() {
	Init()
	activeWorkersGauge.Dec()
}

// BrowserAcquired tracks browser pool checkout.
func BrowserAcquired() {
	Init()
	browserPoolInUseGauge.Inc()
}

// BrowserReleased tracks browser pool return.
func BrowserReleased() {
	Init()
	browserPoolInUseGauge.Dec()
}
