package broker

import (
	"time"

	"github.com/segmentio/kafka-go"

	"eventcore/internal/config"
	"eventcore/internal/constants"
	"eventcore/internal/events"
)

// Subscription describes one durable, queue-grouped subscription.
//
// On Kafka the durable name is the consumer group id: replicas sharing it
// split the partitions between them and resume from the group's committed
// offsets after a restart.
type Subscription struct {
	Subject     events.Subject
	QueueGroup  string
	DurableName string
	AckWait     time.Duration
	// DeliverAllAvailable starts a brand new group at the oldest offset
	// instead of the newest one.
	DeliverAllAvailable bool
	// ManualAck leaves acknowledgment to the handler. When false a handler
	// returning nil is acked for it.
	ManualAck bool
	// MaxDeliver bounds delivery attempts when a dead-letter sink is set.
	// Zero redelivers forever.
	MaxDeliver int
}

// NewSubscription returns the default subscription for a service: durable
// under the queue group, replaying all history for new groups, manual ack.
func NewSubscription(subject events.Subject, cfg config.KafkaConfig) Subscription {
	return Subscription{
		Subject:             subject,
		QueueGroup:          cfg.QueueGroup,
		DurableName:         cfg.QueueGroup,
		AckWait:             cfg.AckWait,
		DeliverAllAvailable: true,
		ManualAck:           true,
		MaxDeliver:          cfg.MaxDeliver,
	}
}

func (s Subscription) withDefaults() Subscription {
	if s.DurableName == "" {
		s.DurableName = s.QueueGroup
	}
	if s.AckWait <= 0 {
		s.AckWait = constants.DefaultAckWait
	}
	if s.MaxDeliver < 0 {
		s.MaxDeliver = 0
	}
	return s
}

func (s Subscription) GroupID() string {
	return s.DurableName
}

func (s Subscription) readerConfig(cfg config.KafkaConfig) kafka.ReaderConfig {
	startOffset := kafka.LastOffset
	if s.DeliverAllAvailable {
		startOffset = kafka.FirstOffset
	}

	rc := kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     s.GroupID(),
		Topic:       s.Subject.Topic(),
		StartOffset: startOffset,
		MinBytes:    constants.KafkaReadMinBytes,
		MaxBytes:    constants.KafkaReadMaxBytes,
		// Offsets are committed synchronously on ack.
		CommitInterval:    0,
		SessionTimeout:    cfg.SessionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Dialer: &kafka.Dialer{
			ClientID: cfg.ClientID,
			Timeout:  constants.KafkaWriteTimeout,
		},
	}
	if rc.SessionTimeout <= 0 {
		rc.SessionTimeout = constants.DefaultSessionTimeout
	}
	if rc.HeartbeatInterval <= 0 {
		rc.HeartbeatInterval = constants.DefaultHeartbeatInterval
	}
	return rc
}
