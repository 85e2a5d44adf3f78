// Package cards tracks which order holds an AI model card.
package cards

import (
	"context"

	"eventcore/internal/events"
)

// Card is an AI model card offered for sale. OrderID is set while an order
// holds it; Version grows with every change.
type Card struct {
	ID      string `bson:"_id" json:"id"`
	ModelID string `bson:"modelId" json:"modelId"`
	Price   int    `bson:"price" json:"price"`
	Rank    int    `bson:"rank" json:"rank"`
	UserID  string `bson:"userId" json:"userId"`
	OrderID string `bson:"orderId,omitempty" json:"orderId,omitempty"`
	Version int    `bson:"version" json:"version"`
}

func FromModelCreated(e events.ModelCreated) Card {
	return Card{
		ID:      e.ID,
		ModelID: e.ModelID,
		Price:   e.Price,
		Rank:    e.Rank,
		UserID:  e.UserID,
		Version: e.Version,
	}
}

func (c Card) Updated() events.ModelUpdated {
	return events.ModelUpdated{
		ID:      c.ID,
		ModelID: c.ModelID,
		Price:   c.Price,
		Rank:    c.Rank,
		UserID:  c.UserID,
		OrderID: c.OrderID,
		Version: c.Version,
	}
}

// Store persists cards. Reserve and Release report changed=false when the
// card is already in the requested state for that order, and fail with a
// conflict when another order holds it.
//
// MarkReleased records that an order was cancelled or expired. The record
// is permanent, so a creation delivered late or replayed cannot hold the
// card again.
type Store interface {
	Insert(ctx context.Context, card Card) (bool, error)
	Get(ctx context.Context, id string) (Card, error)
	FindByOrder(ctx context.Context, orderID string) (Card, error)
	Reserve(ctx context.Context, id, orderID string) (Card, bool, error)
	Release(ctx context.Context, id, orderID string) (Card, bool, error)
	MarkReleased(ctx context.Context, orderID string) error
	Released(ctx context.Context, orderID string) (bool, error)
}
