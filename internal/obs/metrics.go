// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/flyingrobots/reportgen/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_jobs_enqueued_total",
		Help: "Total number of report jobs enqueued",
	})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_jobs_completed_total",
		Help: "Total number of report jobs that reached a terminal state",
	}, []string{"status", "mode"})
	JobRowsOut = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_job_rows_out",
		Help:    "Histogram of output row counts per job",
		Buckets: prometheus.ExponentialBuckets(1, 8, 8),
	})
	JobProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_job_processing_duration_seconds",
		Help:    "Histogram of job processing durations",
		Buckets: prometheus.DefBuckets,
	})
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "report_queue_length",
		Help: "Current length of the report job queue",
	}, []string{"queue"})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "report_read_endpoint_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_read_endpoint_breaker_trips_total",
		Help: "Count of times the read-endpoint circuit breaker transitioned to Open",
	})
	LeasesRecovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_leases_recovered_total",
		Help: "Total number of jobs recovered from an abandoned processing lease",
	})
	SchedulesTicked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_schedules_ticked_total",
		Help: "Total number of schedule ticks that enqueued a job",
	})
	ReduceChunkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_reduce_chunk_duration_seconds",
		Help:    "Histogram of per-range reduce aggregation durations",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		JobsEnqueued, JobsCompleted, JobRowsOut, JobProcessingDuration,
		QueueLength, CircuitBreakerState, CircuitBreakerTrips, LeasesRecovered,
		SchedulesTicked, ReduceChunkDuration,
	)
}

// StartMetricsServer exposes /metrics and returns a server for controlled shutdown.
// StartMetricsServer is retained for compatibility; StartHTTPServer also
// registers health endpoints and should be preferred for new callers.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
