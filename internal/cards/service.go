package cards

import (
	"context"
	"fmt"

	"eventcore/internal/broker"
	"eventcore/internal/events"
	"eventcore/internal/logger"
	apperrors "eventcore/pkg/errors"
	"eventcore/pkg/metrics"
)

type UpdatePublisher interface {
	Publish(ctx context.Context, data events.ModelUpdated) error
}

// Service reserves a card while an order is open and frees it when the
// order is cancelled or expires. Every change is announced as ModelUpdated.
type Service struct {
	store     Store
	publisher UpdatePublisher
	logger    logger.Logger
}

func NewService(store Store, publisher UpdatePublisher, log logger.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    log,
	}
}

func (s *Service) HandleModelCreated(ctx context.Context, data events.ModelCreated, msg *broker.Message) error {
	if err := s.ModelCreated(ctx, data); err != nil {
		return err
	}
	return msg.Ack()
}

func (s *Service) HandleOrderCreated(ctx context.Context, data events.OrderCreated, msg *broker.Message) error {
	if err := s.OrderCreated(ctx, data); err != nil {
		return err
	}
	return msg.Ack()
}

func (s *Service) HandleOrderCancelled(ctx context.Context, data events.OrderCancelled, msg *broker.Message) error {
	if err := s.OrderCancelled(ctx, data); err != nil {
		return err
	}
	return msg.Ack()
}

func (s *Service) HandleOrderExpired(ctx context.Context, data events.OrderExpired, msg *broker.Message) error {
	if err := s.OrderExpired(ctx, data); err != nil {
		return err
	}
	return msg.Ack()
}

func (s *Service) ModelCreated(ctx context.Context, data events.ModelCreated) error {
	inserted, err := s.store.Insert(ctx, FromModelCreated(data))
	if err != nil {
		metrics.IncCardChange("create", "error")
		return err
	}

	status := "applied"
	if !inserted {
		status = "duplicate"
	}
	metrics.IncCardChange("create", status)
	s.logger.InfowCtx(ctx, "Card stored", "card_id", data.ID, "inserted", inserted)
	return nil
}

// OrderCreated reserves the card unless the order was already released.
// The release record is checked again after the reservation: a cancel that
// lands in between either sees the reservation or is seen here, so the card
// is never left held by a closed order.
func (s *Service) OrderCreated(ctx context.Context, data events.OrderCreated) error {
	cardID := data.AiModelCard.CardRefID

	released, err := s.store.Released(ctx, data.ID)
	if err != nil {
		return err
	}
	if released {
		metrics.IncCardChange("reserve", "released_order")
		s.logger.InfowCtx(ctx, "Skipping reservation for released order", "order_id", data.ID, "card_id", cardID)
		return nil
	}

	card, changed, err := s.store.Reserve(ctx, cardID, data.ID)
	if err != nil {
		return s.finish(ctx, "reserve", card, changed, err)
	}

	released, err = s.store.Released(ctx, data.ID)
	if err != nil {
		return err
	}
	if released {
		return s.dropReservation(ctx, cardID, data.ID)
	}
	return s.finish(ctx, "reserve", card, changed, err)
}

// dropReservation undoes a reservation made for an order released
// concurrently.
func (s *Service) dropReservation(ctx context.Context, cardID, orderID string) error {
	card, changed, err := s.store.Release(ctx, cardID, orderID)
	if apperrors.IsConflict(err) || apperrors.IsNotFound(err) {
		metrics.IncCardChange("reserve", "released_order")
		return nil
	}
	return s.finish(ctx, "release_stale", card, changed, err)
}

func (s *Service) OrderCancelled(ctx context.Context, data events.OrderCancelled) error {
	if err := s.store.MarkReleased(ctx, data.ID); err != nil {
		return err
	}
	card, changed, err := s.store.Release(ctx, data.AiModelCard.CardRefID, data.ID)
	return s.finish(ctx, "release_cancelled", card, changed, err)
}

func (s *Service) OrderExpired(ctx context.Context, data events.OrderExpired) error {
	if err := s.store.MarkReleased(ctx, data.ID); err != nil {
		return err
	}
	held, err := s.store.FindByOrder(ctx, data.ID)
	if apperrors.IsNotFound(err) {
		metrics.IncCardChange("release_expired", "duplicate")
		s.logger.InfowCtx(ctx, "No card held by expired order", "order_id", data.ID)
		return nil
	}
	if err != nil {
		return err
	}

	card, changed, err := s.store.Release(ctx, held.ID, data.ID)
	return s.finish(ctx, "release_expired", card, changed, err)
}

// finish publishes the card state after a change. A change already made by
// an earlier delivery is published again with the same version, which
// covers a publish that failed after the store write; consumers drop
// versions they have seen.
func (s *Service) finish(ctx context.Context, action string, card Card, changed bool, err error) error {
	if err != nil {
		metrics.IncCardChange(action, "error")
		s.logger.WarnwCtx(ctx, "Card change rejected", "action", action, "error", err)
		return fmt.Errorf("%s: %w", action, err)
	}

	if err := s.publisher.Publish(ctx, card.Updated()); err != nil {
		metrics.IncCardChange(action, "publish_failed")
		return fmt.Errorf("failed to publish model updated: %w", err)
	}

	status := "applied"
	if !changed {
		status = "replayed"
	}
	metrics.IncCardChange(action, status)
	s.logger.InfowCtx(ctx, "Card updated",
		"action", action,
		"status", status,
		"card_id", card.ID,
		"order_id", card.OrderID,
		"version", card.Version,
	)
	return nil
}
