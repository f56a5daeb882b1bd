package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_processed_total",
			Help: "Total number of message events processed by the dispatcher (count)",
		},
		[]string{"status"},
	)

	MessageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_processing_duration_ms",
			Help:    "End-to-end processing duration per message event in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"status"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Total number of channel delivery attempts (count)",
		},
		[]string{"channel", "outcome"},
	)

	DeliveryPartialFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_partial_failures_total",
			Help: "Messages delivered to at least one but not all resolved identities (count)",
		},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"operation", "channel"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to the dead-letter queue (count)",
		},
		[]string{"reason"},
	)

	DLQFallbackWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_fallback_writes_total",
			Help: "Dead-letter events written to the durable fallback store (count)",
		},
		[]string{"result"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_checks_total",
			Help: "Total number of deduplication checks (count)",
		},
		[]string{"status"},
	)

	DedupCheckDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_check_duration_ms",
			Help:    "Deduplication store round-trip duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	StatusUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_updates_total",
			Help: "Status updates handled by the status consumer (count)",
		},
		[]string{"status", "result"},
	)

	StatusPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "status_publish_failures_total",
			Help: "Fire-and-forget status publishes that failed (count)",
		},
	)

	NotifierActiveStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifier_active_streams",
			Help: "Number of live fan-out streams currently registered (count)",
		},
	)

	NotifierEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifier_events_total",
			Help: "Events pushed through the live fan-out notifier (count)",
		},
		[]string{"result"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against the rate limiter (count)",
		},
		[]string{"status", "scope"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fail-open fallback strategies were used (count)",
		},
		[]string{"component", "strategy"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"topic"},
	)

	KafkaHandlerRedeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_handler_redeliveries_total",
			Help: "Total number of in-place re-handlings of a failed record (count)",
		},
		[]string{"topic"},
	)

	MessagesAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_accepted_total",
			Help: "Messages accepted at the gateway ingress (count)",
		},
		[]string{"channel"},
	)
)

func ObserveDedupDuration(d time.Duration, status string) {
	DedupCheckDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func ObserveProcessingDuration(d time.Duration, status string) {
	MessageProcessingDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func RegisterDeliveryMetrics() {
	prometheus.MustRegister(
		MessagesProcessedTotal,
		MessageProcessingDuration,
		DeliveryAttemptsTotal,
		DeliveryPartialFailuresTotal,
		RetryAttemptsTotal,
		DLQMessagesTotal,
		DLQFallbackWritesTotal,
		DedupChecksTotal,
		DedupCheckDuration,
		StatusPublishFailuresTotal,
		FallbackUsageTotal,
	)
}

func RegisterStatusMetrics() {
	prometheus.MustRegister(
		StatusUpdatesTotal,
		NotifierActiveStreams,
		NotifierEventsTotal,
	)
}

func RegisterGatewayMetrics() {
	prometheus.MustRegister(
		MessagesAcceptedTotal,
		RateLimitRequestsTotal,
		FallbackUsageTotal,
	)
}

func RegisterBrokerMetrics() {
	prometheus.MustRegister(
		KafkaMessagesReadTotal,
		KafkaMessagesWrittenTotal,
		KafkaHandlerRedeliveriesTotal,
	)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}
