package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second

	KafkaRedeliveryInitialInterval = 1 * time.Second
	KafkaRedeliveryMaxInterval     = 30 * time.Second
)

const (
	DefaultResolverTimeout = 10 * time.Second
	DefaultDeliveryTimeout = 5 * time.Second
)

const (
	CacheKeyPrefixDedup     = "dedup:"
	CacheKeyPrefixRateLimit = "ratelimit:"
	RateLimitGlobalSubject  = "_global"
)

const (
	DefaultMessagesTopic = "message_events"
	DefaultStatusTopic   = "message_status_updates"
	DefaultDLQTopic      = "message_events_dlq"
)

const (
	DefaultMongoDBName          = "chat4all"
	MessageStatusCollection     = "message_status"
	DeadLetterFallbackTableName = "dead_letters"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// DefaultDedupTTL must cover the event log's maximum expected
	// redelivery window.
	DefaultDedupTTL = 6 * time.Hour
)

const (
	DefaultMaxDeliveryAttempts   = 3
	DefaultRetryInitialInterval  = 1 * time.Second
	DefaultRetryMaxInterval      = 10 * time.Second
	DefaultRetryMultiplier       = 2.0
	DefaultFanOutParallelism     = 8
	DefaultResolverMaxAttempts   = 2
	DefaultResolverRetryInterval = 250 * time.Millisecond
)

const (
	DefaultPerUserLimit    = 100
	DefaultGlobalLimit     = 1000
	DefaultBurstAllowance  = 200
	DefaultRateLimitWindow = time.Minute
)

const (
	MockReadReceiptDelay = 2 * time.Second
)

const (
	SourceDeliveryService = "delivery-service"
	SourceStatusService   = "status-service"
	SourceGatewayService  = "gateway-service"
)

const (
	DLQReasonValidation       = "validation_failed"
	DLQReasonNoLinkedIdentity = "no linked identity"
	DLQReasonRetriesExhausted = "delivery retries exhausted"
)
