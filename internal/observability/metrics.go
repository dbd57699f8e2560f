package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions prometheus.Gauge

	appendTotal       *prometheus.CounterVec
	lateArrivalTotal  *prometheus.CounterVec
	finalizationTotal *prometheus.CounterVec

	finalizeDuration  prometheus.Histogram
	storageRetryTotal prometheus.Counter
	listPagesTotal    prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current buffered session count.",
				},
			),
			appendTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "records_appended_total",
					Help: "Total telemetry records appended by record type.",
				},
				[]string{"type"},
			),
			lateArrivalTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "late_arrivals_total",
					Help: "Total late-arriving records seen after session finalization began, by reason.",
				},
				[]string{"reason"},
			),
			finalizationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "finalizations_total",
					Help: "Total session finalizations by outcome.",
				},
				[]string{"outcome"},
			),
			finalizeDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "finalize_duration_seconds",
					Help:    "Session finalization duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			storageRetryTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "storage_retries_total",
					Help: "Total retried storage writes after transient errors.",
				},
			),
			listPagesTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "list_pages_total",
					Help: "Total session listing pages served.",
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.appendTotal,
			m.lateArrivalTotal,
			m.finalizationTotal,
			m.finalizeDuration,
			m.storageRetryTotal,
			m.listPagesTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordAppend(recordType string) {
	m := getMetrics()
	m.appendTotal.WithLabelValues(recordType).Inc()
}

func RecordLateArrival(reason string) {
	m := getMetrics()
	m.lateArrivalTotal.WithLabelValues(reason).Inc()
}

func RecordFinalization(outcome string) {
	m := getMetrics()
	m.finalizationTotal.WithLabelValues(outcome).Inc()
}

func ObserveFinalizeDuration(duration time.Duration) {
	m := getMetrics()
	m.finalizeDuration.Observe(duration.Seconds())
}

func RecordStorageRetry() {
	m := getMetrics()
	m.storageRetryTotal.Inc()
}

func RecordListPage() {
	m := getMetrics()
	m.listPagesTotal.Inc()
}
