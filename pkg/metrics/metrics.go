package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Domain metrics
	BedTransitions  *prometheus.CounterVec
	BedConflicts    prometheus.Counter
	InvoiceOps      *prometheus.CounterVec
	PaymentsTotal   *prometheus.CounterVec
	PaymentsAmount  prometheus.Counter
	StorageRetries  *prometheus.CounterVec
	WardCacheLookup *prometheus.CounterVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec
	OutboxEventsPurged      prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimited         prometheus.Counter
}

// New creates and registers all application metrics on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BedTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bed_transitions_total",
			Help:      "Bed status transitions by target status",
		}, []string{"to"}),
		BedConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bed_conflicts_total",
			Help:      "Rejected bed transitions because of the current bed state",
		}),
		InvoiceOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_operations_total",
			Help:      "Invoice operations by operation and outcome",
		}, []string{"operation", "status"}),
		PaymentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Accepted payments by method",
		}, []string{"method"}),
		PaymentsAmount: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_amount_total",
			Help:      "Sum of accepted payment amounts",
		}),
		StorageRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_retries_total",
			Help:      "Retries of storage operations after a storage error",
		}, []string{"operation"}),
		WardCacheLookup: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ward_cache_lookups_total",
			Help:      "Ward cache lookups by result",
		}, []string{"result"}),

		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),
		OutboxEventsPurged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_purged_total",
			Help:      "Processed outbox events deleted after the retention window",
		}),

		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
}
