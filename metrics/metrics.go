package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_received_total",
			Help: "Total number of domain events received by the rule engine",
		},
		[]string{"event_type"},
	)

	RulesMatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_rules_matched_total",
			Help: "Total number of rule matches that fired a notification",
		},
		[]string{"event_type"},
	)

	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_notifications_created_total",
			Help: "Total number of notifications created",
		},
		[]string{"category", "priority"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_deliveries_total",
			Help: "Total number of finished delivery attempts by outcome",
		},
		[]string{"channel_type", "status"},
	)

	DeliveriesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_deliveries_skipped_total",
			Help: "Total number of deliveries short-circuited before dispatch",
		},
		[]string{"channel_type", "reason"},
	)

	DeliveryRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_delivery_retries_total",
			Help: "Total number of delivery retry attempts",
		},
		[]string{"channel_type"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_dispatch_duration_seconds",
			Help:    "Time spent in channel provider calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel_type"},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_worker_pool_active_workers",
			Help: "Number of active workers per pool (-1 after a failed shutdown)",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_worker_pool_queue_size",
			Help: "Number of queued tasks per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_worker_pool_tasks_processed_total",
			Help: "Total number of tasks processed per pool",
		},
		[]string{"pool"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_cache_errors_total",
			Help: "Total number of cache errors by operation",
		},
		[]string{"cache", "operation"},
	)
)
