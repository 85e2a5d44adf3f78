package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events published (count)",
		},
		[]string{"service", "subject", "status"},
	)

	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_publish_duration_ms",
			Help:    "Time until the broker acknowledged a publish in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "subject"},
	)

	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_received_total",
			Help: "Total number of deliveries handed to listeners, redeliveries included (count)",
		},
		[]string{"service", "subject"},
	)

	MessagesAckedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_acked_total",
			Help: "Total number of messages acknowledged (count)",
		},
		[]string{"service", "subject"},
	)

	RedeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_redeliveries_total",
			Help: "Total number of messages scheduled for redelivery (count)",
		},
		[]string{"service", "subject", "reason"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "listener_handler_duration_ms",
			Help:    "Listener handler duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "subject", "status"},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Total number of messages or jobs moved to the dead-letter archive (count)",
		},
		[]string{"service", "source", "reason"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "subject", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag reported by the reader (count)",
		},
		[]string{"service", "subject", "partition"},
	)

	JobsScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delay_jobs_scheduled_total",
			Help: "Total number of delayed jobs added (count)",
		},
		[]string{"queue", "status"},
	)

	JobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delay_jobs_processed_total",
			Help: "Total number of delayed job executions (count)",
		},
		[]string{"queue", "status"},
	)

	JobsRecoveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delay_jobs_recovered_total",
			Help: "Total number of jobs whose lease expired and were requeued (count)",
		},
		[]string{"queue"},
	)

	JobFireLag = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delay_job_fire_lag_ms",
			Help:    "Time between a job's readyAt and its execution in milliseconds",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"queue"},
	)

	DelayQueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "delay_queue_size",
			Help: "Number of jobs per state (count)",
		},
		[]string{"queue", "state"},
	)

	OrderTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Total number of order status transitions applied (count)",
		},
		[]string{"from", "to"},
	)

	ExpirationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_expirations_total",
			Help: "Outcome of expiration job firings (count)",
		},
		[]string{"outcome"},
	)

	CardChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_changes_total",
			Help: "Total number of model card changes (count)",
		},
		[]string{"action", "status"},
	)

	CardReplicaEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_replica_events_total",
			Help: "Total number of card events applied to the order side copy (count)",
		},
		[]string{"event", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "target"},
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

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"service", "database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"service", "database", "operation"},
	)
)

var (
	brokerOnce     sync.Once
	delayQueueOnce sync.Once
	sagaOnce       sync.Once
	cardsOnce      sync.Once
	catalogOnce    sync.Once
	breakerOnce    sync.Once
	opsOnce        sync.Once
)

func RegisterBrokerMetrics() {
	brokerOnce.Do(func() {
		prometheus.MustRegister(EventsPublishedTotal)
		prometheus.MustRegister(PublishDuration)
		prometheus.MustRegister(MessagesReceivedTotal)
		prometheus.MustRegister(MessagesAckedTotal)
		prometheus.MustRegister(RedeliveriesTotal)
		prometheus.MustRegister(HandlerDuration)
		prometheus.MustRegister(DeadLettersTotal)
		prometheus.MustRegister(KafkaMessageSizeBytes)
		prometheus.MustRegister(KafkaConsumerLag)
		prometheus.MustRegister(RetryAttemptsTotal)
	})
}

func RegisterDelayQueueMetrics() {
	delayQueueOnce.Do(func() {
		prometheus.MustRegister(JobsScheduledTotal)
		prometheus.MustRegister(JobsProcessedTotal)
		prometheus.MustRegister(JobsRecoveredTotal)
		prometheus.MustRegister(JobFireLag)
		prometheus.MustRegister(DelayQueueSize)
	})
}

func RegisterSagaMetrics() {
	sagaOnce.Do(func() {
		prometheus.MustRegister(OrderTransitionsTotal)
		prometheus.MustRegister(ExpirationsTotal)
		prometheus.MustRegister(DatabaseQueriesTotal)
		prometheus.MustRegister(DatabaseQueryDuration)
	})
}

func RegisterCardsMetrics() {
	cardsOnce.Do(func() {
		prometheus.MustRegister(CardChangesTotal)
	})
}

func RegisterCatalogMetrics() {
	catalogOnce.Do(func() {
		prometheus.MustRegister(CardReplicaEventsTotal)
	})
}

func RegisterCircuitBreakerMetrics() {
	breakerOnce.Do(func() {
		prometheus.MustRegister(CircuitBreakerState)
		prometheus.MustRegister(CircuitBreakerRequests)
		prometheus.MustRegister(CircuitBreakerFailures)
	})
}

func RegisterOpsMetrics() {
	opsOnce.Do(func() {
		prometheus.MustRegister(RateLimitRequestsTotal)
	})
}

func IncEventsPublished(service, subject, status string) {
	EventsPublishedTotal.WithLabelValues(service, subject, status).Inc()
}

func ObservePublishDuration(service, subject string, duration time.Duration) {
	PublishDuration.WithLabelValues(service, subject).Observe(float64(duration.Milliseconds()))
}

func IncMessagesReceived(service, subject string) {
	MessagesReceivedTotal.WithLabelValues(service, subject).Inc()
}

func IncMessagesAcked(service, subject string) {
	MessagesAckedTotal.WithLabelValues(service, subject).Inc()
}

func IncRedelivery(service, subject, reason string) {
	RedeliveriesTotal.WithLabelValues(service, subject, reason).Inc()
}

func ObserveHandlerDuration(service, subject, status string, duration time.Duration) {
	HandlerDuration.WithLabelValues(service, subject, status).Observe(float64(duration.Milliseconds()))
}

func IncDeadLetters(service, source, reason string) {
	DeadLettersTotal.WithLabelValues(service, source, reason).Inc()
}

func ObserveKafkaMessageSize(service, subject, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, subject, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, subject string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, subject, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func IncJobsScheduled(queue, status string) {
	JobsScheduledTotal.WithLabelValues(queue, status).Inc()
}

func IncJobsProcessed(queue, status string) {
	JobsProcessedTotal.WithLabelValues(queue, status).Inc()
}

func AddJobsRecovered(queue string, n int) {
	JobsRecoveredTotal.WithLabelValues(queue).Add(float64(n))
}

func ObserveJobFireLag(queue string, lag time.Duration) {
	JobFireLag.WithLabelValues(queue).Observe(float64(lag.Milliseconds()))
}

func SetDelayQueueSize(queue, state string, size int64) {
	DelayQueueSize.WithLabelValues(queue, state).Set(float64(size))
}

func IncOrderTransition(from, to string) {
	OrderTransitionsTotal.WithLabelValues(from, to).Inc()
}

func IncExpiration(outcome string) {
	ExpirationsTotal.WithLabelValues(outcome).Inc()
}

func IncCardChange(action, status string) {
	CardChangesTotal.WithLabelValues(action, status).Inc()
}

func IncCardReplicaEvent(event, status string) {
	CardReplicaEventsTotal.WithLabelValues(event, status).Inc()
}

func IncRetryAttempt(service, target string) {
	RetryAttemptsTotal.WithLabelValues(service, target).Inc()
}

func IncDatabaseQuery(service, database, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(service, database, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(service, database, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(service, database, operation).Observe(float64(duration.Milliseconds()))
}
