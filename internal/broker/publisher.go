package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/codes"

	"eventcore/internal/events"
	"eventcore/internal/logger"
	"eventcore/pkg/logging"
	"eventcore/pkg/metrics"
	"eventcore/pkg/tracing"
)

// Publisher sends events of one kind to their fixed subject.
type Publisher[T events.Event] struct {
	writer  Writer
	subject events.Subject
	service string
	logger  logger.Logger
}

func NewPublisher[T events.Event](conn *Conn, log logger.Logger) *Publisher[T] {
	return &Publisher[T]{
		writer:  conn.writer,
		subject: events.SubjectOf[T](),
		service: conn.ServiceName(),
		logger:  log,
	}
}

func (p *Publisher[T]) Subject() events.Subject {
	return p.subject
}

// Publish returns once every in-sync replica acknowledged the write, or
// with the broker error. It does not retry.
func (p *Publisher[T]) Publish(ctx context.Context, data T) error {
	ctx = logging.WithSubject(ctx, p.subject.String())

	body, err := events.Encode(data)
	if err != nil {
		metrics.IncEventsPublished(p.service, p.subject.String(), "invalid")
		return err
	}

	ctx, span := tracing.StartPublishSpan(ctx, p.subject.String())
	defer span.End()

	headers := []kafka.Header{
		{Key: headerContentType, Value: []byte("application/json")},
		{Key: headerSubject, Value: []byte(p.subject)},
	}
	headers = tracing.InjectTraceContext(ctx, headers)

	msg := kafka.Message{
		Topic:   p.subject.Topic(),
		Value:   body,
		Headers: headers,
		Time:    time.Now(),
	}
	if key := events.KeyOf(data); key != "" {
		msg.Key = []byte(key)
	}

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	metrics.ObservePublishDuration(p.service, p.subject.String(), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		metrics.IncEventsPublished(p.service, p.subject.String(), "error")
		p.logger.ErrorwCtx(ctx, "Failed to publish event", "error", err, "key", string(msg.Key))
		return fmt.Errorf("failed to publish %s: %w", p.subject, err)
	}

	metrics.IncEventsPublished(p.service, p.subject.String(), "ok")
	metrics.ObserveKafkaMessageSize(p.service, p.subject.String(), "out", len(body))
	p.logger.DebugwCtx(ctx, "Event published", "key", string(msg.Key))
	return nil
}
