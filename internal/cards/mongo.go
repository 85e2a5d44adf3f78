package cards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eventcore/internal/constants"
	apperrors "eventcore/pkg/errors"
)

type MongoStore struct {
	collection *mongo.Collection
	releases   *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		collection: db.Collection(constants.CardsCollection),
		releases:   db.Collection(constants.CardReleasesCollection),
	}
}

func (s *MongoStore) Insert(ctx context.Context, card Card) (bool, error) {
	if card.Version < 1 {
		card.Version = 1
	}
	_, err := s.collection.InsertOne(ctx, card)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert card %s: %w", card.ID, err)
	}
	return true, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (Card, error) {
	return s.findOne(ctx, bson.M{"_id": id}, "card_id", id)
}

func (s *MongoStore) FindByOrder(ctx context.Context, orderID string) (Card, error) {
	return s.findOne(ctx, bson.M{"orderId": orderID}, "order_id", orderID)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M, key, value string) (Card, error) {
	var card Card
	err := s.collection.FindOne(ctx, filter).Decode(&card)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Card{}, apperrors.ErrNotFound.WithDetail(key, value)
	}
	if err != nil {
		return Card{}, fmt.Errorf("failed to get card: %w", err)
	}
	return card, nil
}

func (s *MongoStore) Reserve(ctx context.Context, id, orderID string) (Card, bool, error) {
	card, err := s.update(ctx,
		bson.M{"_id": id, "orderId": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"orderId": orderID}, "$inc": bson.M{"version": 1}},
	)
	if err == nil {
		return card, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return Card{}, false, fmt.Errorf("failed to reserve card %s: %w", id, err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return Card{}, false, err
	}
	if current.OrderID == orderID {
		return current, false, nil
	}
	return current, false, heldByOther(current, orderID)
}

func (s *MongoStore) Release(ctx context.Context, id, orderID string) (Card, bool, error) {
	card, err := s.update(ctx,
		bson.M{"_id": id, "orderId": orderID},
		bson.M{"$unset": bson.M{"orderId": ""}, "$inc": bson.M{"version": 1}},
	)
	if err == nil {
		return card, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return Card{}, false, fmt.Errorf("failed to release card %s: %w", id, err)
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return Card{}, false, err
	}
	if current.OrderID == "" {
		return current, false, nil
	}
	return current, false, heldByOther(current, orderID)
}

func (s *MongoStore) MarkReleased(ctx context.Context, orderID string) error {
	_, err := s.releases.UpdateOne(ctx,
		bson.M{"_id": orderID},
		bson.M{"$setOnInsert": bson.M{"releasedAt": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	// Two racing upserts can both miss and one loses on the unique _id.
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to mark order %s released: %w", orderID, err)
	}
	return nil
}

func (s *MongoStore) Released(ctx context.Context, orderID string) (bool, error) {
	n, err := s.releases.CountDocuments(ctx, bson.M{"_id": orderID}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to check release of order %s: %w", orderID, err)
	}
	return n > 0, nil
}

func (s *MongoStore) update(ctx context.Context, filter, update bson.M) (Card, error) {
	var card Card
	err := s.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&card)
	return card, err
}

func heldByOther(card Card, orderID string) error {
	return apperrors.ErrConflict.WithDetails(map[string]interface{}{
		"message":  fmt.Sprintf("card %s is held by order %s", card.ID, card.OrderID),
		"card_id":  card.ID,
		"order_id": orderID,
		"held_by":  card.OrderID,
	})
}
