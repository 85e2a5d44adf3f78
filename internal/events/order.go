package events

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type OrderStatus string

const (
	StatusCreated        OrderStatus = "created"
	StatusWaitingPayment OrderStatus = "waiting:payment"
	StatusPaid           OrderStatus = "paid"
	StatusCancelled      OrderStatus = "cancelled"
	StatusExpired        OrderStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusPaid, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func (s OrderStatus) Valid() bool {
	return s == StatusCreated || s == StatusWaitingPayment || s.Terminal()
}

var errTerminalStatus = errors.New("must be a known non-terminal status")

// openStatus accepts any status an order can still be expired from.
func openStatus(value interface{}) error {
	s, _ := value.(OrderStatus)
	if !s.Valid() || s.Terminal() {
		return errTerminalStatus
	}
	return nil
}

type OrderCard struct {
	CardRefID  string `json:"cardRefId"`
	ID         string `json:"id"`
	ModelRefID string `json:"modelRefId"`
	Price      int    `json:"price"`
	UserID     string `json:"userId"`
	Version    int    `json:"version"`
}

func (c OrderCard) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.CardRefID, validation.Required),
		validation.Field(&c.Price, validation.Min(0)),
		validation.Field(&c.Version, validation.Min(0)),
	)
}

type OrderCreated struct {
	ID             string      `json:"id"`
	Status         OrderStatus `json:"status"`
	ExpirationDate time.Time   `json:"expirationDate"`
	UserID         string      `json:"userId"`
	Version        int         `json:"version"`
	AiModelCard    OrderCard   `json:"aiModelCard"`
}

func (OrderCreated) Subject() Subject { return OrderCreatedSubject }

func (e OrderCreated) Key() string { return e.ID }

func (e OrderCreated) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required),
		validation.Field(&e.Status, validation.Required, validation.By(openStatus)),
		validation.Field(&e.ExpirationDate, validation.Required),
		validation.Field(&e.UserID, validation.Required),
		validation.Field(&e.Version, validation.Min(0)),
		validation.Field(&e.AiModelCard),
	)
}

type CancelledCard struct {
	CardRefID string `json:"cardRefId"`
	Version   int    `json:"version"`
}

func (c CancelledCard) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.CardRefID, validation.Required),
		validation.Field(&c.Version, validation.Min(0)),
	)
}

type OrderCancelled struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	Version     int           `json:"version"`
	AiModelCard CancelledCard `json:"aiModelCard"`
}

func (OrderCancelled) Subject() Subject { return OrderCancelledSubject }

func (e OrderCancelled) Key() string { return e.ID }

func (e OrderCancelled) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required),
		validation.Field(&e.Version, validation.Min(0)),
		validation.Field(&e.AiModelCard),
	)
}

type OrderExpired struct {
	ID string `json:"id"`
}

func (OrderExpired) Subject() Subject { return OrderExpiredSubject }

func (e OrderExpired) Key() string { return e.ID }

func (e OrderExpired) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required),
	)
}
