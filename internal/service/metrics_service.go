package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scan outcome labels for attendance_scans_total.
const (
	ScanResultRecorded  = "recorded"
	ScanResultDuplicate = "duplicate"
	ScanResultRejected  = "rejected"
)

// Expiry trigger labels for sessions_expired_total.
const (
	ExpiryTriggerExplicit = "explicit"
	ExpiryTriggerLazy     = "lazy"
	ExpiryTriggerSweep    = "sweep"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	scansTotal      *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	sessionsExpired *prometheus.CounterVec
	backfillRows    prometheus.Counter
	backfillErrors  prometheus.Counter
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheLatency    prometheus.Observer
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	scansTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_scans_total",
		Help: "Attendance check-in attempts by outcome",
	}, []string{"result", "method"})

	sessionsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_created_total",
		Help: "Total sessions opened",
	})

	sessionsExpired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessions_expired_total",
		Help: "Terminal session transitions by trigger",
	}, []string{"trigger"})

	backfillRows := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "absentee_backfill_rows_total",
		Help: "Absent rows materialized at session expiry",
	})

	backfillErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "absentee_backfill_failures_total",
		Help: "Failed absentee backfill attempts",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, scansTotal, sessionsCreated, sessionsExpired, backfillRows, backfillErrors, cacheHits, cacheMisses, cacheLatency, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		scansTotal:      scansTotal,
		sessionsCreated: sessionsCreated,
		sessionsExpired: sessionsExpired,
		backfillRows:    backfillRows,
		backfillErrors:  backfillErrors,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		cacheLatency:    cacheLatency,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordScan counts a check-in attempt by outcome.
func (m *MetricsService) RecordScan(result, method string) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(result, method).Inc()
}

// RecordSessionCreated counts a session activation.
func (m *MetricsService) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// RecordSessionExpired counts a terminal transition.
func (m *MetricsService) RecordSessionExpired(trigger string) {
	if m == nil {
		return
	}
	m.sessionsExpired.WithLabelValues(trigger).Inc()
}

// RecordBackfill counts materialized absent rows, or a failed attempt.
func (m *MetricsService) RecordBackfill(rows int, failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.backfillErrors.Inc()
		return
	}
	m.backfillRows.Add(float64(rows))
}

// RecordCacheOperation records cache hit/miss metrics.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
}
