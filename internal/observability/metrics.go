package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gfs_ingest"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingest service.
type Metrics struct {
	DriverRunning prometheus.Gauge

	// Job and pass metrics.
	JobsTotal      *prometheus.CounterVec // labels: status={succeeded,failed,not_published,cancelled}
	JobAttempts    prometheus.Histogram
	JobDuration    prometheus.Histogram
	PassesTotal    *prometheus.CounterVec // labels: outcome={progress,idle}
	PassDuration   prometheus.Histogram
	RecordsWritten prometheus.Counter
	BytesFetched   prometheus.Counter
	MissingOffsets prometheus.Gauge

	// Retention metrics.
	PrunedRows prometheus.Counter

	// Upstream metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: kind={fetch,probe}, outcome={ok,not_found,rate_limited,error}
	UpstreamDuration *prometheus.HistogramVec // labels: kind={fetch,probe}
	RateLimitWait    prometheus.Histogram

	ArchiveErrors prometheus.Counter
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics that are not registered anywhere, to
// avoid "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		DriverRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "driver_running",
			Help:      "1 when the acquisition driver is active, 0 when shut down.",
		}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Terminal forecast jobs by status.",
		}, []string{"status"}),
		JobAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_attempts",
			Help:      "Budgeted attempts used per terminal job.",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time from job start to terminal state, including backoff.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		PassesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Worker pool passes by outcome.",
		}, []string{"outcome"}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of a worker pool pass.",
			Buckets:   []float64{10, 30, 60, 300, 600, 1200, 1800, 3600},
		}),
		RecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Decoded records handed to storage.",
		}),
		BytesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_fetched_total",
			Help:      "Artifact bytes downloaded, including failed attempts.",
		}),
		MissingOffsets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "missing_offsets",
			Help:      "Missing offsets of the run most recently selected for acquisition.",
		}),
		PrunedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_rows_total",
			Help:      "Rows deleted by retention pruning.",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "NOMADS requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "NOMADS request duration in seconds, excluding rate limiter waits.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"kind"}),
		RateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time requests spent waiting on the process-wide rate limiter.",
			Buckets:   []float64{0, 0.1, 0.25, 0.5, 1, 5, 15, 30, 60},
		}),
		ArchiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_errors_total",
			Help:      "Parquet backup writes that failed.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.DriverRunning,
		m.JobsTotal,
		m.JobAttempts,
		m.JobDuration,
		m.PassesTotal,
		m.PassDuration,
		m.RecordsWritten,
		m.BytesFetched,
		m.MissingOffsets,
		m.PrunedRows,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.RateLimitWait,
		m.ArchiveErrors,
	}
}
