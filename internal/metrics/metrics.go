// Package metrics exposes Prometheus instrumentation for the file store.
// A nil *Metrics is valid and records nothing, so components can take one optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gridfs"

// Metrics holds every collector registered by the server.
type Metrics struct {
	registry *prometheus.Registry

	cursorOpens       prometheus.Counter
	cursorRecreations prometheus.Counter
	chunksRead        prometheus.Counter
	bytesRead         prometheus.Counter
	chunksWritten     prometheus.Counter
	bytesWritten      prometheus.Counter
	uploads           *prometheus.CounterVec
	gcDeleted         prometheus.Counter
	gcRuns            *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cursorOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursor_opens_total",
			Help:      "Chunk cursors opened by downloads.",
		}),
		cursorRecreations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cursor_recreations_total",
			Help:      "Cursors discarded because a read needed an earlier chunk.",
		}),
		chunksRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_read_total",
			Help:      "Chunks fetched from the store.",
		}),
		bytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_read_total",
			Help:      "Payload bytes returned to readers.",
		}),
		chunksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_written_total",
			Help:      "Chunks inserted into the store.",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Payload bytes written by uploads.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Finished uploads by outcome.",
		}, []string{"outcome"}),
		gcDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_orphans_deleted_total",
			Help:      "Orphaned files whose chunks were collected.",
		}),
		gcRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_runs_total",
			Help:      "Garbage collection runs by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cursorOpens,
		m.cursorRecreations,
		m.chunksRead,
		m.bytesRead,
		m.chunksWritten,
		m.bytesWritten,
		m.uploads,
		m.gcDeleted,
		m.gcRuns,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CursorOpened records a new chunk cursor.
func (m *Metrics) CursorOpened() {
	if m == nil {
		return
	}
	m.cursorOpens.Inc()
}

// CursorRecreated records a cursor replaced to read backwards.
func (m *Metrics) CursorRecreated() {
	if m == nil {
		return
	}
	m.cursorRecreations.Inc()
}

// ChunkRead records one chunk fetched from the store.
func (m *Metrics) ChunkRead() {
	if m == nil {
		return
	}
	m.chunksRead.Inc()
}

// BytesRead records payload bytes handed to a reader.
func (m *Metrics) BytesRead(n int) {
	if m == nil {
		return
	}
	m.bytesRead.Add(float64(n))
}

// ChunkWritten records one chunk of n bytes inserted.
func (m *Metrics) ChunkWritten(n int) {
	if m == nil {
		return
	}
	m.chunksWritten.Inc()
	m.bytesWritten.Add(float64(n))
}

// UploadFinished records an upload outcome ("completed", "cancelled", "failed").
func (m *Metrics) UploadFinished(outcome string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
}

// GCRun records a garbage collection run and the files it collected.
func (m *Metrics) GCRun(result string, deleted int) {
	if m == nil {
		return
	}
	m.gcRuns.WithLabelValues(result).Inc()
	m.gcDeleted.Add(float64(deleted))
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, status).Inc()
	m.httpDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}
