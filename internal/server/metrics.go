// Package server — metrics.go registers the Prometheus metrics owned by
// the HTTP server.
package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// One instance is created in New against an injected registry so tests
// never pollute the default one.
type serverMetrics struct {
	// chatRequestsTotal counts completed /api/chat requests by outcome:
	// "ok", "error", "aborted", or "rejected".
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds measures each chat request from acceptance to
	// stream completion.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveStreams is the number of answer streams currently open.
	chatActiveStreams prometheus.Gauge

	// ingestTotal counts completed ingestion runs by outcome: "success",
	// "failed", or "quota".
	ingestTotal *prometheus.CounterVec

	// ingestPages counts pages indexed by successful ingestion runs.
	ingestPages prometheus.Counter

	// httpRequestsTotal counts all HTTP requests by method, handler, and
	// status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds measures the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "papyr",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "papyr",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Chat request duration from acceptance to stream completion.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		chatActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "papyr",
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Number of answer streams currently open.",
		}),

		ingestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "papyr",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Ingestion runs completed, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestPages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "papyr",
			Subsystem: "ingest",
			Name:      "pages_total",
			Help:      "Pages indexed by successful ingestion runs.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "papyr",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, partitioned by method, handler, and status code.",
		}, []string{"method", "handler", "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "papyr",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "handler"}),
	}
}

// observeHTTP records one completed request under its normalized handler
// label.
func (m *serverMetrics) observeHTTP(method, path string, status int, elapsed time.Duration) {
	handler := normalizePath(path)
	m.httpRequestsTotal.WithLabelValues(method, handler, strconv.Itoa(status)).Inc()
	m.httpDurationSeconds.WithLabelValues(method, handler).Observe(elapsed.Seconds())
}

// normalizePath collapses path parameters so metric cardinality stays
// bounded: /api/notes/<uuid>/assist becomes /api/notes/{id}/assist.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if i >= 3 && p != "" && p != "assist" {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
