package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	optimizations     *prometheus.CounterVec
	bytesSaved        prometheus.Counter
	uploadsRejected   prometheus.Counter
	pipelineTimeouts  prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelopt_api_requests_total",
			Help: "HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelopt_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelopt_api_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelopt_queue_jobs_enqueued_total",
			Help: "Optimize jobs enqueued for the worker.",
		}, []string{"queue"}),
		optimizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelopt_api_optimizations_total",
			Help: "Synchronous optimizations by source and target format.",
		}, []string{"source_format", "target_format"}),
		bytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelopt_api_bytes_saved_total",
			Help: "Bytes saved by synchronous optimizations.",
		}),
		uploadsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelopt_api_uploads_rejected_total",
			Help: "Uploads that failed extension, content or size validation.",
		}),
		pipelineTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelopt_api_pipeline_timeouts_total",
			Help: "Optimizations that exceeded the request timeout.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.optimizations,
		m.bytesSaved,
		m.uploadsRejected,
		m.pipelineTimeouts,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
