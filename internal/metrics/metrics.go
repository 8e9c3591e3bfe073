package metrics

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics for the kitchen scheduler, estimator and webhook pipeline
var (
	JobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitchen_job_runs_total",
			Help: "Total number of scheduled job runs by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kitchen_job_duration_seconds",
			Help:    "Duration of scheduled job runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	JobSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitchen_job_skipped_total",
			Help: "Total number of timer fires skipped by the hour gate",
		},
		[]string{"job"},
	)

	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitchen_webhook_deliveries_total",
			Help: "Total number of webhook POST attempts by status",
		},
		[]string{"status", "retry"},
	)

	EstimateConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kitchen_estimate_confidence",
			Help:    "Confidence score of preparation estimates",
			Buckets: []float64{30, 50, 60, 70, 80, 85, 95},
		},
	)

	ProductionQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kitchen_production_queue_depth",
			Help: "Orders in the active production queue by urgency tier at last listing",
		},
		[]string{"tenant", "urgency"},
	)

	OrderEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kitchen_order_events_total",
			Help: "Total number of consumed order lifecycle messages by outcome",
		},
		[]string{"outcome"},
	)
)

// Register registers all Prometheus metrics
func Register() {
	prometheus.MustRegister(JobRunsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(JobSkippedTotal)
	prometheus.MustRegister(WebhookDeliveriesTotal)
	prometheus.MustRegister(EstimateConfidence)
	prometheus.MustRegister(ProductionQueueDepth)
	prometheus.MustRegister(OrderEventsTotal)
}
