package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
	KafkaReadMinBytes = 1
	KafkaReadMaxBytes = 10e6
)

const (
	DefaultAckWait           = 5 * time.Second
	DefaultSessionTimeout    = 30 * time.Second
	DefaultHeartbeatInterval = 3 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	DefaultMongoDBName = "eventcore"

	OrdersCollection       = "orders"
	CardsCollection        = "cards"
	CardReleasesCollection = "card_releases"
	CardReplicasCollection = "card_replicas"
)

const (
	DefaultQueueName       = "order:expiration"
	DefaultPollInterval    = time.Second
	DefaultLease           = 30 * time.Second
	DefaultJobMaxAttempts  = 3
	DefaultClaimBatchSize  = 10
	DefaultJobRetryBackoff = 2 * time.Second
)

// Orders expire this long after creation unless paid or cancelled.
const OrderExpirationWindow = 10 * time.Minute

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	ServiceExpiration = "expiration-service"
	ServiceCards      = "cards-service"
)
