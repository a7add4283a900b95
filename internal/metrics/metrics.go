// Package metrics defines custom Prometheus metrics for the MediaShelf storage gateway.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
// Media objects run from a few KiB (covers) to several GiB (video).
var sizeBuckets = prometheus.ExponentialBuckets(1024, 8, 10)

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediashelf_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediashelf_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestSize observes request body size in bytes.
	HTTPRequestSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediashelf_http_request_size_bytes",
			Help:    "Request body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediashelf_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Gateway metrics.
var (
	// StorageOperationsTotal counts backend calls by operation, backend and outcome.
	StorageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediashelf_storage_operations_total",
			Help: "Storage backend operations by type and outcome",
		},
		[]string{"operation", "backend", "status"},
	)

	// StorageOperationDuration observes backend call latency. For reads it
	// covers the time to first byte, not the whole stream.
	StorageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediashelf_storage_operation_duration_seconds",
			Help:    "Storage backend operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	// RangeRequestsTotal counts read requests by how their Range header resolved.
	RangeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediashelf_range_requests_total",
			Help: "Object reads by range outcome (full, partial, unsatisfiable, malformed)",
		},
		[]string{"outcome"},
	)

	// UploadsRejectedTotal counts uploads refused before reaching the backend.
	UploadsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediashelf_uploads_rejected_total",
			Help: "Uploads rejected by validation, by reason",
		},
		[]string{"category", "reason"},
	)

	// PresignedURLsTotal counts presigned URLs issued.
	PresignedURLsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediashelf_presigned_urls_total",
			Help: "Presigned URLs issued by direction",
		},
		[]string{"direction"},
	)

	// BytesUploadedTotal counts bytes acknowledged by the backend.
	BytesUploadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediashelf_bytes_uploaded_total",
			Help: "Bytes written to the storage backend by category",
		},
		[]string{"category"},
	)

	// BytesStreamedTotal counts bytes sent to clients from object bodies.
	BytesStreamedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mediashelf_bytes_streamed_total",
			Help: "Object bytes streamed to clients",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPRequestSize,
			HTTPResponseSize,
			StorageOperationsTotal,
			StorageOperationDuration,
			RangeRequestsTotal,
			UploadsRejectedTotal,
			PresignedURLsTotal,
			BytesUploadedTotal,
			BytesStreamedTotal,
		)
		// Initialise the range outcomes so they appear in /metrics output
		// before the first read.
		for _, o := range []string{"full", "partial", "unsatisfiable", "malformed"} {
			RangeRequestsTotal.WithLabelValues(o)
		}
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. Object keys never become
// label values.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/readyz", "/metrics", "/openapi.json", "/openapi.yaml",
		"/v1/keys", "/v1/presign/upload", "/v1/presign/download":
		return path
	case "/docs", "/docs/":
		return "/docs"
	case "/", "":
		return "/"
	}

	// Starts with /docs (Stoplight Elements assets).
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}
	if strings.HasPrefix(path, "/v1/objects/") {
		return "/v1/objects/{key}"
	}
	return "/{other}"
}
