package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"

	"eventcore/internal/deadletter"
	"eventcore/internal/events"
	"eventcore/internal/logger"
	apperrors "eventcore/pkg/errors"
	"eventcore/pkg/logging"
	"eventcore/pkg/metrics"
	"eventcore/pkg/tracing"
)

type State int32

const (
	StateCreated State = iota
	StateSubscribed
	StateReceiving
	StateProcessing
	StateAcked
	StateRedeliveryPending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	case StateProcessing:
		return "processing"
	case StateAcked:
		return "acked"
	case StateRedeliveryPending:
		return "redelivery_pending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler applies one event. It must call msg.Ack after its side effect is
// durable; returning without an ack leads to redelivery.
type Handler[T events.Event] func(ctx context.Context, data T, msg *Message) error

type ListenerOption func(*listenerOptions)

type listenerOptions struct {
	sink DeadLetterSink
}

// WithDeadLetterSink enables the dead-letter path for subscriptions with
// MaxDeliver > 0.
func WithDeadLetterSink(sink DeadLetterSink) ListenerOption {
	return func(o *listenerOptions) { o.sink = sink }
}

// Listener consumes one subscription, one message at a time. A message
// that is not acked within AckWait is delivered again to the same handler
// after the rest of the ack window has passed; if the process stops first,
// the uncommitted offset makes the group redeliver it to whichever replica
// owns the partition next.
type Listener[T events.Event] struct {
	conn    *Conn
	sub     Subscription
	handler Handler[T]
	logger  logger.Logger
	sink    DeadLetterSink
	service string

	state  atomic.Int32
	reader Reader
}

func NewListener[T events.Event](conn *Conn, sub Subscription, handler Handler[T], log logger.Logger, opts ...ListenerOption) *Listener[T] {
	var o listenerOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub.Subject = events.SubjectOf[T]()
	if sub.QueueGroup == "" {
		sub.QueueGroup = conn.Config().QueueGroup
	}

	l := &Listener[T]{
		conn:    conn,
		sub:     sub.withDefaults(),
		handler: handler,
		logger:  log,
		sink:    o.sink,
		service: conn.ServiceName(),
	}
	l.state.Store(int32(StateCreated))
	return l
}

func (l *Listener[T]) State() State {
	return State(l.state.Load())
}

func (l *Listener[T]) Subscription() Subscription {
	return l.sub
}

func (l *Listener[T]) setState(s State) {
	l.state.Store(int32(s))
}

// Listen subscribes and processes messages until ctx is done or the
// connection closes.
func (l *Listener[T]) Listen(ctx context.Context) error {
	reader, err := l.conn.openReader(l.sub)
	if err != nil {
		return err
	}
	l.reader = reader
	defer func() {
		l.conn.releaseReader(reader)
		_ = reader.Close()
		l.setState(StateClosed)
	}()

	l.setState(StateSubscribed)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-l.conn.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	ctx = logging.WithServiceName(ctx, l.service)
	ctx = logging.WithSubject(ctx, l.sub.Subject.String())
	l.logger.InfowCtx(ctx, "Listening",
		"topic", l.sub.Subject.Topic(),
		"queue_group", l.sub.QueueGroup,
		"durable_name", l.sub.DurableName,
		"ack_wait", l.sub.AckWait.String(),
		"max_deliver", l.sub.MaxDeliver,
	)

	for {
		l.setState(StateReceiving)

		raw, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.InfowCtx(ctx, "Stopped listening", "reason", "context canceled")
				return nil
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				l.logger.InfowCtx(ctx, "Stopped listening", "reason", "reader closed")
				return nil
			}
			l.logger.ErrorwCtx(ctx, "Error fetching kafka message", "error", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		metrics.ObserveKafkaMessageSize(l.service, l.sub.Subject.String(), "in", len(raw.Value))
		l.process(ctx, raw)
		if ctx.Err() != nil {
			return nil
		}
	}
}

// process delivers raw until it is acked, dead-lettered, or ctx is done.
func (l *Listener[T]) process(ctx context.Context, raw kafka.Message) {
	for delivery := 1; ; delivery++ {
		started := time.Now()
		reason := l.deliver(ctx, raw, delivery)
		if reason == "" {
			l.setState(StateAcked)
			return
		}

		l.setState(StateRedeliveryPending)
		metrics.IncRedelivery(l.service, l.sub.Subject.String(), reason)

		if l.sub.MaxDeliver > 0 && l.sink != nil && delivery >= l.sub.MaxDeliver {
			if err := l.deadLetter(ctx, raw, reason, delivery); err == nil {
				l.setState(StateAcked)
				return
			}
		}

		if !sleep(ctx, time.Until(started.Add(l.sub.AckWait))) {
			return
		}
	}
}

// deliver runs one attempt and returns the reason it was not acked, or ""
// when it was.
func (l *Listener[T]) deliver(ctx context.Context, raw kafka.Message, delivery int) string {
	l.setState(StateProcessing)
	metrics.IncMessagesReceived(l.service, l.sub.Subject.String())

	deadline := time.Now().Add(l.sub.AckWait)
	msg := newMessage(l.sub.Subject, raw, delivery, deadline, l.commit)

	hctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	hctx = logging.WithMessageID(hctx, msg.ID())

	hctx, span := tracing.StartDeliverySpan(hctx, l.sub.Subject.String(), raw, delivery)
	defer span.End()

	data, err := events.Decode[T](raw.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		l.logger.ErrorwCtx(hctx, "Failed to decode message", "error", err, "delivery", delivery)
		return "decode"
	}

	start := time.Now()
	err = apperrors.Guard(func() error {
		return l.handler(hctx, data, msg)
	})
	if err == nil && !l.sub.ManualAck && !msg.Acked() {
		err = msg.Ack()
	}
	msg.seal()

	if msg.Acked() {
		metrics.ObserveHandlerDuration(l.service, l.sub.Subject.String(), "acked", time.Since(start))
		metrics.IncMessagesAcked(l.service, l.sub.Subject.String())
		if err != nil {
			l.logger.WarnwCtx(hctx, "Handler returned an error after acking", "error", err)
		} else {
			l.logger.DebugwCtx(hctx, "Message acked", "delivery", delivery)
		}
		return ""
	}

	reason := "not_acked"
	switch {
	case apperrors.IsPanic(err):
		reason = "panic"
	case err != nil && errors.Is(hctx.Err(), context.DeadlineExceeded):
		reason = "ack_timeout"
	case err != nil:
		reason = "handler_error"
	}
	metrics.ObserveHandlerDuration(l.service, l.sub.Subject.String(), reason, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		l.logger.ErrorwCtx(hctx, "Message not acked, will redeliver",
			"error", err, "reason", reason, "delivery", delivery)
	} else {
		l.logger.WarnwCtx(hctx, "Handler returned without acking, will redeliver", "delivery", delivery)
	}
	return reason
}

func (l *Listener[T]) commit(ctx context.Context, raw kafka.Message) error {
	if err := l.reader.CommitMessages(ctx, raw); err != nil {
		return err
	}
	metrics.SetKafkaConsumerLag(l.service, l.sub.Subject.String(), raw.Partition, consumerLag(raw))
	return nil
}

// consumerLag is the number of messages behind raw in its partition.
// Reader.Lag is unavailable for group readers, so it comes from the
// high-water mark the fetch carried.
func consumerLag(raw kafka.Message) int64 {
	lag := raw.HighWaterMark - raw.Offset - 1
	if lag < 0 {
		return 0
	}
	return lag
}

func (l *Listener[T]) deadLetter(ctx context.Context, raw kafka.Message, reason string, attempts int) error {
	letter := deadletter.NewLetter(
		deadletter.SourceListener,
		l.sub.QueueGroup,
		l.sub.Subject.String(),
		string(raw.Key),
		raw.Value,
		reason,
		attempts,
	)

	if err := l.sink.Store(ctx, letter); err != nil {
		l.logger.ErrorwCtx(ctx, "Failed to store dead letter", "error", err, "offset", raw.Offset)
		return err
	}
	if err := l.commit(ctx, raw); err != nil {
		l.logger.ErrorwCtx(ctx, "Failed to commit dead-lettered message", "error", err, "offset", raw.Offset)
		return fmt.Errorf("failed to commit dead letter: %w", err)
	}

	metrics.IncDeadLetters(l.service, deadletter.SourceListener, reason)
	l.logger.WarnwCtx(ctx, "Message moved to dead letters",
		"letter_id", letter.ID,
		"attempts", attempts,
		"reason", reason,
		"offset", raw.Offset,
	)
	return nil
}

// sleep waits d or until ctx is done and reports whether it waited fully.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
