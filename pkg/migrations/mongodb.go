package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"eventcore/internal/constants"
)

// EnsureOrderIndexes creates the indexes the order store queries by.
func EnsureOrderIndexes(ctx context.Context, db *mongo.Database) error {
	return ensureIndexes(ctx, db.Collection(constants.OrdersCollection), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "expirationDate", Value: 1}},
			Options: options.Index().SetName("idx_orders_status_expiration"),
		},
		{
			Keys:    bson.D{{Key: "userId", Value: 1}},
			Options: options.Index().SetName("idx_orders_user"),
		},
	})
}

// EnsureCardIndexes creates the indexes the card store queries by.
func EnsureCardIndexes(ctx context.Context, db *mongo.Database) error {
	return ensureIndexes(ctx, db.Collection(constants.CardsCollection), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "orderId", Value: 1}},
			Options: options.Index().SetName("idx_cards_order").SetSparse(true),
		},
		{
			Keys:    bson.D{{Key: "modelId", Value: 1}},
			Options: options.Index().SetName("idx_cards_model"),
		},
	})
}

func ensureIndexes(ctx context.Context, collection *mongo.Collection, indexes []mongo.IndexModel) error {
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create indexes on %s: %w", collection.Name(), err)
		}
	}
	return nil
}
