package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"stepgate/pkg/models"
)

// MongoSubscriberProvider reads stored subscriber profiles keyed by
// subscriberId.
type MongoSubscriberProvider struct {
	collection *mongo.Collection
}

func NewMongoSubscriberProvider(db *mongo.Database, collection string) *MongoSubscriberProvider {
	return &MongoSubscriberProvider{
		collection: db.Collection(collection),
	}
}

func (p *MongoSubscriberProvider) Fetch(ctx context.Context, req Request) (map[string]interface{}, error) {
	var subscriber models.Subscriber
	err := p.collection.FindOne(ctx, bson.M{"subscriberId": req.Key}).Decode(&subscriber)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb query failed: %w", err)
	}

	return subscriber.Attributes(), nil
}
