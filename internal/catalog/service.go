package catalog

import (
	"context"

	"eventcore/internal/broker"
	"eventcore/internal/events"
	"eventcore/internal/logger"
	apperrors "eventcore/pkg/errors"
	"eventcore/pkg/metrics"
)

// Service applies card events in version order. A duplicate is acked and
// dropped; an update that skips a version is left unacked so the broker
// redelivers it once the missing one has landed.
type Service struct {
	store  Store
	logger logger.Logger
}

func NewService(store Store, log logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: log,
	}
}

func (s *Service) HandleModelCreated(ctx context.Context, data events.ModelCreated, msg *broker.Message) error {
	if err := s.ModelCreated(ctx, data); err != nil {
		return err
	}
	return msg.Ack()
}

func (s *Service) HandleModelUpdated(ctx context.Context, data events.ModelUpdated, msg *broker.Message) error {
	if err := s.ModelUpdated(ctx, data); err != nil {
		return err
	}
	return msg.Ack()
}

func (s *Service) ModelCreated(ctx context.Context, data events.ModelCreated) error {
	inserted, err := s.store.Insert(ctx, FromCreated(data))
	if err != nil {
		metrics.IncCardReplicaEvent("created", "error")
		return err
	}

	status := "applied"
	if !inserted {
		status = "duplicate"
	}
	metrics.IncCardReplicaEvent("created", status)
	s.logger.InfowCtx(ctx, "Card copy stored", "card_id", data.ID, "inserted", inserted)
	return nil
}

func (s *Service) ModelUpdated(ctx context.Context, data events.ModelUpdated) error {
	applied, err := s.store.Advance(ctx, FromUpdated(data))
	if err != nil {
		metrics.IncCardReplicaEvent("updated", "error")
		return err
	}
	if applied {
		metrics.IncCardReplicaEvent("updated", "applied")
		s.logger.InfowCtx(ctx, "Card copy updated",
			"card_id", data.ID,
			"order_id", data.OrderID,
			"version", data.Version,
		)
		return nil
	}

	stored := 0
	current, err := s.store.Get(ctx, data.ID)
	switch {
	case err == nil:
		stored = current.Version
	case !apperrors.IsNotFound(err):
		metrics.IncCardReplicaEvent("updated", "error")
		return err
	}

	if stored >= data.Version {
		metrics.IncCardReplicaEvent("updated", "duplicate")
		s.logger.DebugwCtx(ctx, "Dropping seen card version",
			"card_id", data.ID,
			"stored_version", stored,
			"version", data.Version,
		)
		return nil
	}

	metrics.IncCardReplicaEvent("updated", "gap")
	s.logger.WarnwCtx(ctx, "Card version gap, waiting for redelivery",
		"card_id", data.ID,
		"stored_version", stored,
		"version", data.Version,
	)
	return versionGap(data.ID, stored, data.Version)
}
