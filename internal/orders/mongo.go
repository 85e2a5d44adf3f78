package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eventcore/internal/constants"
	"eventcore/internal/events"
	apperrors "eventcore/pkg/errors"
	"eventcore/pkg/metrics"
)

type MongoStore struct {
	collection *mongo.Collection
	service    string
}

func NewMongoStore(db *mongo.Database, service string) *MongoStore {
	return &MongoStore{
		collection: db.Collection(constants.OrdersCollection),
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

func (s *MongoStore) Track(ctx context.Context, order Order) (_ Order, inserted bool, err error) {
	defer func(start time.Time) { s.observe("track", start, err) }(time.Now())

	order.UpdatedAt = time.Now().UTC()
	doc, err := insertFields(order)
	if err != nil {
		return Order{}, false, err
	}

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": order.ID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return Order{}, false, fmt.Errorf("failed to track order %s: %w", order.ID, err)
	}
	inserted = err == nil && res.UpsertedCount == 1

	stored, err := s.Get(ctx, order.ID)
	if err != nil {
		return Order{}, false, err
	}
	return stored, inserted, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (Order, error) {
	var order Order
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&order)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Order{}, apperrors.ErrNotFound.WithDetail("order_id", id)
	}
	if err != nil {
		return Order{}, fmt.Errorf("failed to get order %s: %w", id, err)
	}
	return order, nil
}

func (s *MongoStore) Transition(ctx context.Context, id string, from, to events.OrderStatus) (_ Order, err error) {
	defer func(start time.Time) { s.observe("transition", start, err) }(time.Now())

	var order Order
	err = s.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{
			"$set": bson.M{"status": to, "updatedAt": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&order)
	if err == nil {
		metrics.IncOrderTransition(string(from), string(to))
		return order, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return Order{}, fmt.Errorf("failed to transition order %s: %w", id, err)
	}

	current, getErr := s.Get(ctx, id)
	if getErr != nil {
		return Order{}, getErr
	}
	return current, invalidTransition(current, from, to)
}

func (s *MongoStore) Tombstone(ctx context.Context, id string) (_ Order, inserted bool, err error) {
	return s.Track(ctx, Order{
		ID:        id,
		Status:    events.StatusCancelled,
		Tombstone: true,
	})
}

func (s *MongoStore) MarkExpiryPublished(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe("mark_expiry_published", start, err) }(time.Now())

	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": events.StatusExpired},
		bson.M{"$set": bson.M{"expiredPublished": true, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark order %s published: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return apperrors.ErrNotFound.WithDetail("order_id", id)
	}
	return nil
}

func invalidTransition(current Order, from, to events.OrderStatus) error {
	return apperrors.ErrInvalidTransition.WithDetails(map[string]interface{}{
		"order_id": current.ID,
		"from":     string(from),
		"to":       string(to),
		"current":  string(current.Status),
	})
}

// insertFields returns order as a document without _id, which an upsert
// takes from its filter.
func insertFields(order Order) (bson.M, error) {
	raw, err := bson.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	delete(doc, "_id")
	return doc, nil
}
