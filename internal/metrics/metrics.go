package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostwatch_http_response_size_bytes",
			Help:    "HTTP response size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "endpoint"},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostwatch_stream_clients",
			Help: "Number of connected websocket stream clients",
		},
	)

	// Distribution loop metrics
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_ticks_total",
			Help: "Total number of distribution loop ticks",
		},
		[]string{"result"}, // result: ok, partial, failed, panic
	)

	CollectDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostwatch_collect_duration_seconds",
			Help:    "Time taken to collect one sample",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	CollectSubsystemFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_collect_subsystem_failures_total",
			Help: "Total number of failed subsystem reads",
		},
		[]string{"subsystem"},
	)

	// State store metrics
	StoreUpdatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostwatch_store_updates_total",
			Help: "Total number of committed state updates",
		},
	)

	StoreRecoveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostwatch_store_recoveries_total",
			Help: "Total number of state updates discarded after a panic",
		},
	)

	HistoryLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostwatch_history_length",
			Help: "Number of samples currently held in history",
		},
	)

	// Alert metrics
	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_alerts_fired_total",
			Help: "Total number of alerts fired",
		},
		[]string{"rule", "severity"},
	)

	NotifierFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_notifier_failures_total",
			Help: "Total number of failed notifier invocations",
		},
		[]string{"notifier"},
	)

	// Host gauges, updated after each successful tick
	HostCPUUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostwatch_host_cpu_usage_percent",
			Help: "Most recent CPU usage",
		},
	)

	HostMemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostwatch_host_memory_usage_percent",
			Help: "Most recent memory usage",
		},
	)

	// Persistence sink metrics
	SinkQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostwatch_sink_queue_size",
			Help: "Current size of the persistence queue",
		},
	)

	SinkQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostwatch_sink_queue_capacity",
			Help: "Capacity of the persistence queue",
		},
	)

	SinkDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostwatch_sink_dropped_total",
			Help: "Total number of samples dropped because the queue was full",
		},
	)

	PersistTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_persist_total",
			Help: "Total number of samples handed to the persister",
		},
		[]string{"backend", "status"}, // status: success, failed
	)

	PersistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostwatch_persist_duration_seconds",
			Help:    "Time taken to persist a batch",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"backend"},
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_kafka_publish_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostwatch_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostwatch_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	KafkaBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostwatch_kafka_bytes_written_total",
			Help: "Total bytes written to Kafka",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
