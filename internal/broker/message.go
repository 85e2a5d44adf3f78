package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"eventcore/internal/events"
)

var (
	ErrAckAfterReturn   = errors.New("ack after handler returned")
	ErrAckDeadlinePast  = errors.New("ack after ack deadline")
	errCommitterMissing = errors.New("message has no committer")
)

type committer func(ctx context.Context, msg kafka.Message) error

// Message is the raw delivery handed to a handler next to the decoded data.
// The handler acknowledges it with Ack once its side effect is durable.
type Message struct {
	Subject       events.Subject
	Data          []byte
	Key           string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	DeliveryCount int

	raw      kafka.Message
	deadline time.Time
	commit   committer

	mu     sync.Mutex
	acked  bool
	sealed bool
}

func newMessage(subject events.Subject, raw kafka.Message, deliveryCount int, deadline time.Time, commit committer) *Message {
	return &Message{
		Subject:       subject,
		Data:          raw.Value,
		Key:           string(raw.Key),
		Partition:     raw.Partition,
		Offset:        raw.Offset,
		Timestamp:     raw.Time,
		DeliveryCount: deliveryCount,
		raw:           raw,
		deadline:      deadline,
		commit:        commit,
	}
}

// ID identifies the message across redeliveries.
func (m *Message) ID() string {
	return fmt.Sprintf("%s/%d/%d", m.Subject.Topic(), m.Partition, m.Offset)
}

func (m *Message) Redelivered() bool {
	return m.DeliveryCount > 1
}

// Ack commits the message offset. It must be called before the handler
// returns and before the ack deadline; later acks are rejected and the
// message is redelivered. Acking twice is a no-op.
func (m *Message) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.acked {
		return nil
	}
	if m.sealed {
		return ErrAckAfterReturn
	}
	if !m.deadline.IsZero() && time.Now().After(m.deadline) {
		return ErrAckDeadlinePast
	}
	if m.commit == nil {
		return errCommitterMissing
	}

	ctx, cancel := context.WithDeadline(context.Background(), m.commitDeadline())
	defer cancel()

	if err := m.commit(ctx, m.raw); err != nil {
		return fmt.Errorf("failed to commit offset: %w", err)
	}
	m.acked = true
	return nil
}

func (m *Message) commitDeadline() time.Time {
	floor := time.Now().Add(time.Second)
	if m.deadline.After(floor) {
		return m.deadline
	}
	return floor
}

func (m *Message) Acked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acked
}

// seal closes the ack window once the handler returned.
func (m *Message) seal() {
	m.mu.Lock()
	m.sealed = true
	m.mu.Unlock()
}
