package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vectord",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently being served.",
		},
		[]string{"transport"},
	)
	sessionsEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "session",
			Name:      "terminations_total",
			Help:      "Finished sessions by cause.",
		},
		[]string{"transport", "cause"},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Handled requests by kind.",
		},
		[]string{"kind", "success"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vectord",
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds, callbacks included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	callbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "rpc",
			Name:      "callbacks_total",
			Help:      "Candidate round trips by request kind.",
		},
		[]string{"kind"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vectord",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	acceptErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vectord",
			Subsystem: "listener",
			Name:      "accept_errors_total",
			Help:      "Failed accepts by transport.",
		},
		[]string{"transport"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsActive, sessionsEnded, requests, requestDuration, callbacks,
			acceptErrors, httpRequests, httpDuration,
		)
	})
}

// RecordSessionStart returns a func that records the end of the session.
func RecordSessionStart(transport string) func(cause string) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(transport).Inc()
	return func(cause string) {
		sessionsActive.WithLabelValues(transport).Dec()
		sessionsEnded.WithLabelValues(transport, cause).Inc()
	}
}

func RecordRequest(kind string, duration time.Duration, success bool) {
	RegisterMetrics()
	requests.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
	requestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordCallback(kind string) {
	RegisterMetrics()
	callbacks.WithLabelValues(kind).Inc()
}

func RecordAcceptError(transport string) {
	RegisterMetrics()
	acceptErrors.WithLabelValues(transport).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
