package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Sync queue metrics
	SyncJobsCompleted     *prometheus.CounterVec
	SyncJobsFailed        *prometheus.CounterVec
	SyncJobsRetried       *prometheus.CounterVec
	SyncJobsSkipped       *prometheus.CounterVec
	SyncProcessingLatency *prometheus.HistogramVec
	SyncQueueDepth        *prometheus.GaugeVec
	SyncStuckReset        prometheus.Counter
	SyncCleanedUp         prometheus.Counter
	CRMCustomersPulled    *prometheus.CounterVec

	// Webhook metrics
	WebhooksReceived *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Redis metrics
	RedisOperations *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them on reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SyncJobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "jobs_completed_total",
			Help:      "Total number of sync jobs delivered to the CRM",
		}, []string{"entity_type"}),
		SyncJobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "jobs_failed_total",
			Help:      "Total number of sync jobs that reached FAILED",
		}, []string{"entity_type"}),
		SyncJobsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "jobs_retried_total",
			Help:      "Total number of sync jobs rescheduled for retry",
		}, []string{"entity_type"}),
		SyncJobsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "jobs_skipped_total",
			Help:      "Total number of sync jobs completed without a remote call",
		}, []string{"entity_type"}),
		SyncProcessingLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "processing_duration_seconds",
			Help:      "Time spent processing one sync job",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"entity_type"}),
		SyncQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "queue_depth",
			Help:      "Current number of sync queue rows by status",
		}, []string{"status"}),
		SyncStuckReset: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "stuck_reset_total",
			Help:      "Total number of PROCESSING rows returned to RETRY",
		}),
		SyncCleanedUp: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "cleaned_up_total",
			Help:      "Total number of COMPLETED rows removed",
		}),
		CRMCustomersPulled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "crm_customers_pulled_total",
			Help:      "Total number of CRM customers seen by the scheduled pull by outcome",
		}, []string{"outcome"}),

		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "received_total",
			Help:      "Total number of inbound webhooks by event and outcome",
		}, []string{"event", "outcome"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		RedisOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "operations_total",
			Help:      "Total number of Redis operations",
		}, []string{"operation", "status"}),
	}
}
