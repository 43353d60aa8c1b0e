package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureSubscriberIndexes creates the indexes the subscriber resolver relies
// on. The collection itself is created on first insert.
func EnsureSubscriberIndexes(ctx context.Context, db *mongo.Database, collection string) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "subscriberId", Value: 1}},
			Options: options.Index().SetName("idx_subscribers_subscriber_id").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "lastOnlineAt", Value: -1}},
			Options: options.Index().SetName("idx_subscribers_last_online_at"),
		},
	}

	_, err := db.Collection(collection).Indexes().CreateMany(ctx, indexes)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}
