package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation shared by the API gateway and the sync agent.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	attendanceRows  *prometheus.CounterVec
	syncBatches     *prometheus.CounterVec
	syncRuns        *prometheus.CounterVec
	outboxPending   prometheus.Gauge
	notifications   *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	cacheLatency    prometheus.Histogram
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

	attendanceRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_upsert_rows_total",
		Help: "Attendance rows processed by bulk upserts, by outcome (written, skipped)",
	}, []string{"outcome"})

	syncBatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_sync_batches_total",
		Help: "Outbox batches replayed, by outcome (synced, network_error, server_error)",
	}, []string{"outcome"})

	syncRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_sync_runs_total",
		Help: "Sync passes, by result (completed, offline, interrupted, skipped_in_flight)",
	}, []string{"result"})

	outboxPending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "outbox_pending_batches",
		Help: "Attendance batches waiting in the local outbox",
	})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_bulk_total",
		Help: "Bulk notification outcomes, by type and outcome (sent, failed, duplicate)",
	}, []string{"type", "outcome"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Attendance register cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Attendance register cache misses",
	})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_operation_duration_seconds",
		Help:    "Latency of cache reads and writes",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, attendanceRows, syncBatches, syncRuns, outboxPending, notifications, cacheHits, cacheMisses, cacheLatency, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		attendanceRows:  attendanceRows,
		syncBatches:     syncBatches,
		syncRuns:        syncRuns,
		outboxPending:   outboxPending,
		notifications:   notifications,
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

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// RecordAttendanceUpsert counts written and finalize-skipped rows.
func (m *MetricsService) RecordAttendanceUpsert(written, skipped int) {
	if m == nil {
		return
	}
	m.attendanceRows.WithLabelValues("written").Add(float64(written))
	m.attendanceRows.WithLabelValues("skipped").Add(float64(skipped))
}

// RecordSyncBatch counts one replayed outbox batch.
func (m *MetricsService) RecordSyncBatch(outcome string) {
	if m == nil {
		return
	}
	m.syncBatches.WithLabelValues(outcome).Inc()
}

// RecordSyncRun counts one sync pass.
func (m *MetricsService) RecordSyncRun(result string) {
	if m == nil {
		return
	}
	m.syncRuns.WithLabelValues(result).Inc()
}

// SetOutboxPending mirrors the outbox size.
func (m *MetricsService) SetOutboxPending(count int) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(count))
}

// RecordNotifications counts bulk send outcomes.
func (m *MetricsService) RecordNotifications(notificationType string, sent, failed, duplicate int) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(notificationType, "sent").Add(float64(sent))
	m.notifications.WithLabelValues(notificationType, "failed").Add(float64(failed))
	m.notifications.WithLabelValues(notificationType, "duplicate").Add(float64(duplicate))
}

// RecordCacheOperation records a cache read.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
	} else {
		m.cacheMisses.Inc()
	}
	m.cacheLatency.Observe(duration.Seconds())
}

// ObserveCacheWrite records cache write latency.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
}
