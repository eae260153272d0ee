// Package metrics exposes Prometheus instrumentation for the engine and the
// HTTP layer. Each Metrics value owns its registry so tests and multiple
// servers never collide on the global one.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "routemigrate"

// Metrics implements core.Recorder and provides HTTP instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	recordsIngested  *prometheus.CounterVec
	comparisons      *prometheus.CounterVec
	selectionChanges prometheus.Counter
	migrations       prometheus.Counter
	migratedRecords  prometheus.Counter
	skippedRecords   prometheus.Counter
	exports          *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recordsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Route records stored from uploaded spreadsheets.",
		}, []string{"table_type"}),
		comparisons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comparisons_total",
			Help:      "Comparison pages served, by matching strategy.",
		}, []string{"strategy"}),
		selectionChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_changes_total",
			Help:      "Source records whose selection flag was set or cleared.",
		}),
		migrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Completed migration executions.",
		}),
		migratedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrated_records_total",
			Help:      "Records written into target tables.",
		}),
		skippedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_records_total",
			Help:      "Selected records skipped because the target already had them.",
		}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Table exports, by outcome.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.recordsIngested,
		m.comparisons,
		m.selectionChanges,
		m.migrations,
		m.migratedRecords,
		m.skippedRecords,
		m.exports,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// RegisterActiveFiles exposes a gauge sampled from active on each scrape.
func (m *Metrics) RegisterActiveFiles(active func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_file_operations",
		Help:      "Workbook parses and exports currently holding a slot.",
	}, func() float64 { return float64(active()) }))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordsIngested(kind string, n int) {
	m.recordsIngested.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ComparisonServed(strategy string) {
	m.comparisons.WithLabelValues(strategy).Inc()
}

func (m *Metrics) SelectionChanged(n int64) {
	if n > 0 {
		m.selectionChanges.Add(float64(n))
	}
}

func (m *Metrics) MigrationFinished(migrated, skipped int) {
	m.migrations.Inc()
	m.migratedRecords.Add(float64(migrated))
	m.skippedRecords.Add(float64(skipped))
}

func (m *Metrics) ExportFinished(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.exports.WithLabelValues(result).Inc()
}

// Middleware records request counts and latency. The route label is the chi
// pattern so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
