package prometheus

import (
	"time"

	"pulsestream/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	HttpRequestsTotal   prometheus.CounterVec
	HttpRequestDuration prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsCounter prometheus.Counter
	AuthErrorsCounter   prometheus.Counter

	// Ingestion metrics
	IngestCounter       prometheus.CounterVec
	DuplicateCounter    prometheus.Counter
	RateLimitedCounter  prometheus.Counter
	DegradedAdmissions  prometheus.Counter
	BatchSizeHistogram  prometheus.Histogram
	QueuePublishErrors  prometheus.Counter

	// Database operation metrics
	DbOperationDuration prometheus.HistogramVec
)

// InitMetrics initializes Prometheus metrics with configuration
func InitMetrics(cfg *config.Config) {
	prefix := cfg.Metrics.Prefix

	HttpRequestsTotal = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HttpRequestDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	AuthAttemptsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
	)

	AuthErrorsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_auth_errors_total",
			Help: "Total number of failed authentications",
		},
	)

	IngestCounter = *promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_events_ingested_total",
			Help: "Total number of ingestion attempts by outcome",
		},
		[]string{"outcome"},
	)

	DuplicateCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_events_duplicate_total",
			Help: "Total number of idempotent duplicate submissions",
		},
	)

	RateLimitedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_events_rate_limited_total",
			Help: "Total number of submissions rejected by the rate limiter",
		},
	)

	DegradedAdmissions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_rate_limiter_degraded_admissions_total",
			Help: "Total number of events admitted uncounted while the limiter backend was unreachable",
		},
	)

	BatchSizeHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    prefix + "_batch_size",
			Help:    "Number of events per batch submission",
			Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000},
		},
	)

	QueuePublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_queue_publish_errors_total",
			Help: "Total number of failed worker hand-off publishes",
		},
	)

	DbOperationDuration = *promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_db_operation_duration_seconds",
			Help:    "Duration of database operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation_type"},
	)
}

// TrackDBOperation returns a function that records the duration of a database operation
func TrackDBOperation(operationType string) func(startTime time.Time) {
	return func(startTime time.Time) {
		duration := time.Since(startTime).Seconds()
		DbOperationDuration.WithLabelValues(operationType).Observe(duration)
	}
}

// RecordIngestOutcome increments the ingestion counter for an outcome
func RecordIngestOutcome(outcome string) {
	IngestCounter.WithLabelValues(outcome).Inc()
}
