package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	jobsTotal            *prometheus.CounterVec
	jobDuration          *prometheus.HistogramVec
	activeJobs           prometheus.Gauge
	pixelsProcessedTotal prometheus.Counter
	bytesSavedTotal      prometheus.Counter
	computeTimeMSTotal   prometheus.Counter
	filesExpiredTotal    prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelopt_worker_jobs_total",
			Help: "Optimize jobs by final status and failure kind.",
		}, []string{"status", "error_kind"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelopt_worker_job_duration_seconds",
			Help:    "Wall time of each optimize job.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pixelopt_worker_active_jobs",
			Help: "Optimize jobs currently holding a processing slot.",
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelopt_usage_pixels_processed_total",
			Help: "Output pixels produced by successful jobs.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelopt_usage_bytes_saved_total",
			Help: "Bytes saved by successful jobs. Outputs that grew count as zero.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelopt_usage_compute_time_ms_total",
			Help: "Compute time of successful jobs in milliseconds.",
		}),
		filesExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelopt_worker_files_expired_total",
			Help: "Stored files removed by scheduled cleanup.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.pixelsProcessedTotal,
		m.bytesSavedTotal,
		m.computeTimeMSTotal,
		m.filesExpiredTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
