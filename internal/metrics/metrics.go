// Package metrics exposes Prometheus collectors for sync runs, record change
// propagation and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/sercha-typesense/internal/core/domain"
	"github.com/custodia-labs/sercha-typesense/internal/core/ports/driven"
)

const namespace = "sercha_typesense"

// Verify interface compliance
var _ driven.SyncMetrics = (*Metrics)(nil)

// Metrics holds every collector registered by the service.
type Metrics struct {
	gatherer prometheus.Gatherer

	batchDuration    *prometheus.HistogramVec
	batchRecords     *prometheus.CounterVec
	documentsTotal   *prometheus.CounterVec
	stepsTotal       *prometheus.CounterVec
	changesTotal     *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	httpDuration     *prometheus.HistogramVec
	httpRequestTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m, err := NewWithRegistry(reg, reg)
	if err != nil {
		// a fresh registry cannot hold duplicates
		panic(err)
	}
	return m
}

// NewWithRegistry registers the collectors with reg and serves them from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Metrics, error) {
	m := &Metrics{
		gatherer: gatherer,
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of one batch export in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"collection"},
		),
		batchRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_records_total",
				Help:      "Records read from the record source by batch exports",
			},
			[]string{"collection"},
		),
		documentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "documents_total",
				Help:      "Documents handled by batch exports by result",
			},
			[]string{"collection", "result"}, // "indexed" / "failed" / "skipped"
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_steps_total",
				Help:      "Sync steps by resulting status",
			},
			[]string{"collection", "status"},
		),
		changesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "record_changes_total",
				Help:      "Routed record changes by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Time spent handling queued tasks by type and outcome",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"type", "outcome"}, // "acked" / "nacked"
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.batchDuration, m.batchRecords, m.documentsTotal, m.stepsTotal,
		m.changesTotal, m.taskDuration, m.httpDuration, m.httpRequestTotal,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveBatch records one batch export.
func (m *Metrics) ObserveBatch(collection string, result domain.BatchResult, duration time.Duration) {
	m.batchDuration.WithLabelValues(collection).Observe(duration.Seconds())
	m.batchRecords.WithLabelValues(collection).Add(float64(result.Count))
	m.documentsTotal.WithLabelValues(collection, "indexed").Add(float64(len(result.Successes)))
	m.documentsTotal.WithLabelValues(collection, "failed").Add(float64(len(result.Failures)))
	m.documentsTotal.WithLabelValues(collection, "skipped").Add(float64(result.Skipped))
}

// ObserveStep records the outcome of one sync step.
func (m *Metrics) ObserveStep(collection string, status domain.SyncStatus) {
	m.stepsTotal.WithLabelValues(collection, string(status)).Inc()
}

// ObserveChange records one routed record change.
func (m *Metrics) ObserveChange(kind domain.ChangeKind, outcome string) {
	m.changesTotal.WithLabelValues(string(kind), outcome).Inc()
}

// ObserveTask records one task handled by the worker.
func (m *Metrics) ObserveTask(taskType domain.TaskType, outcome string, duration time.Duration) {
	m.taskDuration.WithLabelValues(string(taskType), outcome).Observe(duration.Seconds())
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records HTTP request duration and count. Paths are labelled with
// the matched route pattern to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		status := strconv.Itoa(ww.status)
		path := normalizePath(r.Pattern)
		m.httpDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		m.httpRequestTotal.WithLabelValues(r.Method, path, status).Inc()
	})
}

func normalizePath(pattern string) string {
	if pattern == "" {
		return "unknown"
	}
	return pattern
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}
