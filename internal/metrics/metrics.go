package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TriggersTotal tracks trigger invocations by event type
	TriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_engine_triggers_total",
			Help: "Total number of trigger invocations",
		},
		[]string{"event", "org_id"},
	)

	// DeliveriesTotal tracks terminal delivery outcomes
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_engine_deliveries_total",
			Help: "Total number of deliveries reaching a terminal state",
		},
		[]string{"org_id", "status"},
	)

	// DeliveryDuration tracks provider send duration
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_engine_delivery_duration_seconds",
			Help:    "Provider send duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	// TriggerQueueSize tracks the current trigger queue size
	TriggerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_engine_trigger_queue_size",
			Help: "Current number of triggers in the priority queue",
		},
	)

	// DroppedTriggers tracks triggers rejected because the queue was full
	DroppedTriggers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_engine_dropped_triggers_total",
			Help: "Total number of triggers dropped at full queue capacity",
		},
	)

	// RateLimitExceeded tracks send budget exhaustion events
	RateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_engine_rate_limit_exceeded_total",
			Help: "Total number of rate limit exceeded events",
		},
		[]string{"org_id"},
	)

	// RetryAttempts tracks sweeper-initiated retry attempts
	RetryAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_engine_retry_attempts_total",
			Help: "Total number of delivery retry attempts",
		},
	)

	// ConsumerRestarts tracks event consumer restart events
	ConsumerRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_engine_consumer_restarts_total",
			Help: "Total number of event consumer restarts",
		},
	)

	// APIRateLimited tracks HTTP requests rejected by the per-org limiter
	APIRateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_engine_api_rate_limited_total",
			Help: "Total number of HTTP requests rejected by the per-org limiter",
		},
		[]string{"org_id"},
	)
)
