// Package catalog keeps the order side's copy of AI model cards, fed by the
// cards service's ModelCreated and ModelUpdated events.
package catalog

import (
	"context"
	"fmt"
	"time"

	"eventcore/internal/events"
	apperrors "eventcore/pkg/errors"
)

// Card mirrors a card owned by the cards service. Version is the owner's
// version; an update applies only on top of the version before it.
type Card struct {
	ID        string    `bson:"_id" json:"id"`
	ModelID   string    `bson:"modelId" json:"modelId"`
	Price     int       `bson:"price" json:"price"`
	Rank      int       `bson:"rank" json:"rank"`
	UserID    string    `bson:"userId" json:"userId"`
	OrderID   string    `bson:"orderId,omitempty" json:"orderId,omitempty"`
	Version   int       `bson:"version" json:"version"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// FromCreated starts the copy at the version the owner stores, which is
// never below 1.
func FromCreated(e events.ModelCreated) Card {
	version := e.Version
	if version < 1 {
		version = 1
	}
	return Card{
		ID:      e.ID,
		ModelID: e.ModelID,
		Price:   e.Price,
		Rank:    e.Rank,
		UserID:  e.UserID,
		Version: version,
	}
}

func FromUpdated(e events.ModelUpdated) Card {
	return Card{
		ID:      e.ID,
		ModelID: e.ModelID,
		Price:   e.Price,
		Rank:    e.Rank,
		UserID:  e.UserID,
		OrderID: e.OrderID,
		Version: e.Version,
	}
}

// Available reports whether no order holds the card.
func (c Card) Available() bool {
	return c.OrderID == ""
}

// Store persists the copies. Advance replaces the card only when the stored
// version is card.Version-1 and reports whether it did.
type Store interface {
	Insert(ctx context.Context, card Card) (bool, error)
	Get(ctx context.Context, id string) (Card, error)
	Advance(ctx context.Context, card Card) (bool, error)
}

// versionGap is retryable: the missing versions are still on their way.
func versionGap(id string, stored, got int) error {
	return apperrors.ErrConflict.WithDetails(map[string]interface{}{
		"message":        fmt.Sprintf("card %s is at version %d, cannot apply version %d", id, stored, got),
		"card_id":        id,
		"stored_version": stored,
		"version":        got,
	}).AsRetryable()
}
