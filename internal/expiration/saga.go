// Package expiration expires orders that stay unpaid past their
// expiration date.
//
// OrderCreated tracks the order and schedules a job at its expiration
// date. When the job fires, an order still waiting for payment is moved to
// Expired and OrderExpired is published. Cancelled or paid orders are left
// alone, so an order ends in exactly one terminal status.
package expiration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventcore/internal/broker"
	"eventcore/internal/delayqueue"
	"eventcore/internal/events"
	"eventcore/internal/logger"
	"eventcore/internal/orders"
	apperrors "eventcore/pkg/errors"
	"eventcore/pkg/metrics"
	"eventcore/pkg/retry"
)

type OrderStore = orders.Store

type Scheduler interface {
	Add(ctx context.Context, spec delayqueue.JobSpec, delay time.Duration) (bool, error)
}

type ExpiredPublisher interface {
	Publish(ctx context.Context, data events.OrderExpired) error
}

type Saga struct {
	orders    OrderStore
	scheduler Scheduler
	publisher ExpiredPublisher
	logger    logger.Logger
	policy    retry.Policy
	now       func() time.Time
}

type Option func(*Saga)

// WithPublishPolicy sets the in-process retry used for OrderExpired.
func WithPublishPolicy(p retry.Policy) Option {
	return func(s *Saga) { s.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Saga) { s.now = now }
}

func New(store OrderStore, scheduler Scheduler, publisher ExpiredPublisher, log logger.Logger, opts ...Option) *Saga {
	s := &Saga{
		orders:    store,
		scheduler: scheduler,
		publisher: publisher,
		logger:    log,
		policy:    retry.DefaultPolicy(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleOrderCreated acks only once the expiration job is stored.
func (s *Saga) HandleOrderCreated(ctx context.Context, data events.OrderCreated, msg *broker.Message) error {
	if err := s.OrderCreated(ctx, data); err != nil {
		return err
	}
	return msg.Ack()
}

func (s *Saga) HandleOrderCancelled(ctx context.Context, data events.OrderCancelled, msg *broker.Message) error {
	if err := s.OrderCancelled(ctx, data); err != nil {
		return err
	}
	return msg.Ack()
}

// OrderCreated tracks the order and schedules its expiration. Redelivery
// is harmless: tracking and scheduling are both keyed by order id.
func (s *Saga) OrderCreated(ctx context.Context, data events.OrderCreated) error {
	order, inserted, err := s.orders.Track(ctx, orders.FromCreated(data))
	if err != nil {
		return fmt.Errorf("failed to track order: %w", err)
	}
	if order.Status != events.StatusWaitingPayment {
		s.logger.InfowCtx(ctx, "Order already settled, not scheduling expiration",
			"order_id", order.ID, "status", order.Status)
		return nil
	}

	payload, err := json.Marshal(events.OrderExpired{ID: data.ID})
	if err != nil {
		return fmt.Errorf("failed to encode job payload: %w", err)
	}

	delay := data.ExpirationDate.Sub(s.now())
	added, err := s.scheduler.Add(ctx, delayqueue.JobSpec{ID: data.ID, Payload: payload}, delay)
	if err != nil {
		return fmt.Errorf("failed to schedule expiration: %w", err)
	}

	s.logger.InfowCtx(ctx, "Expiration scheduled",
		"order_id", data.ID,
		"delay_ms", delay.Milliseconds(),
		"tracked", inserted,
		"scheduled", added,
	)
	return nil
}

// OrderCancelled records the cancellation. It never touches the schedule;
// the job fires later and finds nothing to expire.
func (s *Saga) OrderCancelled(ctx context.Context, data events.OrderCancelled) error {
	for {
		order, err := s.orders.Transition(ctx, data.ID, events.StatusWaitingPayment, events.StatusCancelled)
		switch {
		case err == nil:
			s.logger.InfowCtx(ctx, "Order cancelled", "order_id", order.ID)
			return nil

		case apperrors.IsInvalidTransition(err):
			if order.Status != events.StatusCancelled {
				s.logger.WarnwCtx(ctx, "Cancellation ignored, order already settled",
					"order_id", data.ID, "status", order.Status)
			}
			return nil

		case apperrors.IsNotFound(err):
			tomb, inserted, err := s.orders.Tombstone(ctx, data.ID)
			if err != nil {
				return fmt.Errorf("failed to record cancellation: %w", err)
			}
			if inserted || tomb.Status != events.StatusWaitingPayment {
				s.logger.InfowCtx(ctx, "Cancellation recorded before creation", "order_id", data.ID)
				return nil
			}
			// OrderCreated won the race; cancel the tracked order instead.
			continue

		default:
			return fmt.Errorf("failed to cancel order: %w", err)
		}
	}
}

// Fire runs when an expiration job is due. It is safe to run more than
// once for the same order.
func (s *Saga) Fire(ctx context.Context, job delayqueue.Job) error {
	id := job.ID
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			metrics.IncExpiration("unknown_order")
			s.logger.WarnwCtx(ctx, "Expiration fired for unknown order", "order_id", id)
			return nil
		}
		return err
	}

	if order.Status == events.StatusWaitingPayment {
		order, err = s.orders.Transition(ctx, id, events.StatusWaitingPayment, events.StatusExpired)
		if err != nil && !apperrors.IsInvalidTransition(err) {
			return err
		}
	}

	switch {
	case order.Status == events.StatusExpired && !order.ExpiredPublished:
		return s.publishExpired(ctx, id)
	case order.Status == events.StatusExpired:
		metrics.IncExpiration("already_published")
		s.logger.DebugwCtx(ctx, "Order expiry already published", "order_id", id)
	default:
		metrics.IncExpiration("skipped")
		s.logger.InfowCtx(ctx, "Order not waiting for payment, nothing to expire",
			"order_id", id, "status", order.Status)
	}
	return nil
}

func (s *Saga) publishExpired(ctx context.Context, id string) error {
	err := retry.RetryWithCallback(ctx, s.policy, func() error {
		return s.publisher.Publish(ctx, events.OrderExpired{ID: id})
	}, func(attempt int, err error, next time.Duration) {
		metrics.IncRetryAttempt("expiration", "publish")
		s.logger.WarnwCtx(ctx, "Publishing OrderExpired failed, retrying",
			"order_id", id, "attempt", attempt, "next_delay", next.String(), "error", err)
	})
	if err != nil {
		metrics.IncExpiration("publish_failed")
		return fmt.Errorf("failed to publish order expired: %w", err)
	}

	if err := s.orders.MarkExpiryPublished(ctx, id); err != nil {
		// The event is out; a retried job publishes it again, which
		// consumers tolerate under at-least-once delivery.
		return fmt.Errorf("failed to mark expiry published: %w", err)
	}

	metrics.IncExpiration("expired")
	s.logger.InfowCtx(ctx, "Order expired", "order_id", id)
	return nil
}
