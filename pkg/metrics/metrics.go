package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request latency in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// Bytes streamed to the blob store
	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "document_upload_bytes_total",
			Help: "Total bytes uploaded to blob storage",
		},
	)

	// Uploads currently streaming
	UploadsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "document_uploads_in_flight",
			Help: "Number of document uploads currently in flight",
		},
	)

	// Terminal upload outcomes
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_uploads_total",
			Help: "Document upload outcomes",
		},
		[]string{"result"}, // uploaded, failed, canceled, rejected
	)

	// Blob cleanup job outcomes
	CleanupJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blob_cleanup_jobs_total",
			Help: "Blob cleanup job outcomes",
		},
		[]string{"result"}, // done, failed
	)

	// Connected live list watchers
	LiveWatchers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "project_live_watchers",
			Help: "Number of connected live project list watchers",
		},
	)
)
