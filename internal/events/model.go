package events

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type ModelCreated struct {
	ID      string `json:"id"`
	ModelID string `json:"modelId"`
	Price   int    `json:"price"`
	Rank    int    `json:"rank"`
	UserID  string `json:"userId"`
	Version int    `json:"version"`
}

func (ModelCreated) Subject() Subject { return ModelCreatedSubject }

func (e ModelCreated) Key() string { return e.ID }

func (e ModelCreated) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required),
		validation.Field(&e.ModelID, validation.Required),
		validation.Field(&e.Price, validation.Min(0)),
		validation.Field(&e.UserID, validation.Required),
		validation.Field(&e.Version, validation.Min(0)),
	)
}

// ModelUpdated reports a card change. OrderID is empty while the card is free.
type ModelUpdated struct {
	ID      string `json:"id"`
	ModelID string `json:"modelId"`
	Price   int    `json:"price"`
	Rank    int    `json:"rank"`
	UserID  string `json:"userId"`
	OrderID string `json:"orderId,omitempty"`
	Version int    `json:"version"`
}

func (ModelUpdated) Subject() Subject { return ModelUpdatedSubject }

func (e ModelUpdated) Key() string { return e.ID }

func (e ModelUpdated) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ID, validation.Required),
		validation.Field(&e.Version, validation.Min(1)),
	)
}
