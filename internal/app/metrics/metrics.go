// Package metrics exposes Prometheus collectors for the price pipeline
// and the HTTP query surface.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketfeed",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketfeed",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	cycleRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Total number of fetch-reconcile-broadcast cycles.",
		},
		[]string{"status"},
	)

	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "marketfeed",
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of complete update cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	providerAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "providers",
			Name:      "attempts_total",
			Help:      "Quote source attempts by outcome.",
		},
		[]string{"provider", "status"},
	)

	reconciles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "feeds",
			Name:      "reconciliations_total",
			Help:      "Reconciliations by movement kind.",
		},
		[]string{"kind"},
	)

	broadcastFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "broadcast",
			Name:      "publish_failures_total",
			Help:      "Snapshot publishes dropped because a transport was unavailable.",
		},
		[]string{"publisher"},
	)

	historyPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketfeed",
			Subsystem: "history",
			Name:      "pruned_points_total",
			Help:      "History points removed by the retention job.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		cycleRuns,
		cycleDuration,
		providerAttempts,
		reconciles,
		broadcastFailures,
		historyPruned,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordCycle records the outcome and duration of one scheduler cycle.
func RecordCycle(status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	cycleRuns.WithLabelValues(status).Inc()
	cycleDuration.Observe(duration.Seconds())
}

// RecordProviderAttempt records one source attempt within a fallback chain.
func RecordProviderAttempt(provider, status string) {
	providerAttempts.WithLabelValues(provider, status).Inc()
}

// RecordReconcile records an accepted reconciliation by movement kind.
func RecordReconcile(kind string) {
	reconciles.WithLabelValues(kind).Inc()
}

// RecordBroadcastFailure records a dropped snapshot publish.
func RecordBroadcastFailure(publisher string) {
	broadcastFailures.WithLabelValues(publisher).Inc()
}

// RecordHistoryPruned records points removed by the retention job.
func RecordHistoryPruned(count int64) {
	if count > 0 {
		historyPruned.Add(float64(count))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v1" || len(parts) == 1 {
		return "/" + parts[0]
	}
	resource := parts[1]
	switch {
	case len(parts) >= 4 && resource == "feeds":
		return "/v1/feeds/:symbol/" + parts[3]
	case len(parts) == 3:
		return "/v1/" + resource + "/:symbol"
	default:
		return "/v1/" + resource
	}
}
