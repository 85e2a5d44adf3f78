// Package orders keeps the authoritative order state the expiration saga
// decides on.
package orders

import (
	"context"
	"time"

	"eventcore/internal/events"
)

// Order is the saga's view of an order. A tombstone is an order whose
// cancellation arrived before its creation.
type Order struct {
	ID               string             `bson:"_id" json:"id"`
	UserID           string             `bson:"userId,omitempty" json:"userId,omitempty"`
	Status           events.OrderStatus `bson:"status" json:"status"`
	ExpirationDate   time.Time          `bson:"expirationDate,omitempty" json:"expirationDate,omitempty"`
	Version          int                `bson:"version" json:"version"`
	CardRefID        string             `bson:"cardRefId,omitempty" json:"cardRefId,omitempty"`
	ExpiredPublished bool               `bson:"expiredPublished" json:"expiredPublished"`
	Tombstone        bool               `bson:"tombstone,omitempty" json:"tombstone,omitempty"`
	UpdatedAt        time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// FromCreated builds the order tracked for an OrderCreated event.
func FromCreated(e events.OrderCreated) Order {
	return Order{
		ID:             e.ID,
		UserID:         e.UserID,
		Status:         events.StatusWaitingPayment,
		ExpirationDate: e.ExpirationDate.UTC(),
		Version:        e.Version,
		CardRefID:      e.AiModelCard.CardRefID,
	}
}

// Store is the order state used by the saga. Transition is a compare and
// swap on status; it fails with ErrInvalidTransition when the order is not
// in from, so two racing transitions never both win.
type Store interface {
	// Track inserts order unless the id is known and returns the stored
	// order with whether it was inserted.
	Track(ctx context.Context, order Order) (Order, bool, error)
	Get(ctx context.Context, id string) (Order, error)
	Transition(ctx context.Context, id string, from, to events.OrderStatus) (Order, error)
	// Tombstone records a cancellation for an order not seen yet.
	Tombstone(ctx context.Context, id string) (Order, bool, error)
	MarkExpiryPublished(ctx context.Context, id string) error
}
