package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"eventcore/internal/constants"
	apperrors "eventcore/pkg/errors"
	"eventcore/pkg/metrics"
)

type MongoStore struct {
	collection *mongo.Collection
	service    string
}

func NewMongoStore(db *mongo.Database, service string) *MongoStore {
	return &MongoStore{
		collection: db.Collection(constants.CardReplicasCollection),
		service:    service,
	}
}

func (s *MongoStore) observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IncDatabaseQuery(s.service, "mongodb", op, status)
	metrics.ObserveDatabaseQueryDuration(s.service, "mongodb", op, time.Since(start))
}

func (s *MongoStore) Insert(ctx context.Context, card Card) (_ bool, err error) {
	defer func(start time.Time) { s.observe("card_insert", start, err) }(time.Now())

	card.UpdatedAt = time.Now().UTC()
	_, err = s.collection.InsertOne(ctx, card)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert card %s: %w", card.ID, err)
	}
	return true, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (Card, error) {
	var card Card
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&card)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Card{}, apperrors.ErrNotFound.WithDetail("card_id", id)
	}
	if err != nil {
		return Card{}, fmt.Errorf("failed to get card %s: %w", id, err)
	}
	return card, nil
}

func (s *MongoStore) Advance(ctx context.Context, card Card) (_ bool, err error) {
	defer func(start time.Time) { s.observe("card_advance", start, err) }(time.Now())

	set := bson.M{
		"modelId":   card.ModelID,
		"price":     card.Price,
		"rank":      card.Rank,
		"userId":    card.UserID,
		"version":   card.Version,
		"updatedAt": time.Now().UTC(),
	}
	update := bson.M{"$set": set}
	if card.OrderID != "" {
		set["orderId"] = card.OrderID
	} else {
		update["$unset"] = bson.M{"orderId": ""}
	}

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": card.ID, "version": card.Version - 1},
		update,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update card %s: %w", card.ID, err)
	}
	return res.MatchedCount == 1, nil
}
