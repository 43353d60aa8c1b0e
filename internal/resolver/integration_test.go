//go:build integration

package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"stepgate/internal/config"
	"stepgate/internal/constants"
	"stepgate/internal/logger"
	"stepgate/internal/testinfra"
	"stepgate/pkg/filter"
	"stepgate/pkg/migrations"
	"stepgate/pkg/models"
)

func TestMongoSubscriberProvider(t *testing.T) {
	db := testinfra.Mongo(t)
	ctx := context.Background()
	require.NoError(t, migrations.EnsureSubscriberIndexes(ctx, db, constants.DefaultSubscriberCollection))

	online := true
	lastOnline := fixedNow.Add(-2 * time.Minute)
	_, err := db.Collection(constants.DefaultSubscriberCollection).InsertOne(ctx, models.Subscriber{
		SubscriberID: "sub-1",
		Email:        "jane@example.com",
		Data:         map[string]interface{}{"tier": "gold"},
		IsOnline:     &online,
		LastOnlineAt: &lastOnline,
	})
	require.NoError(t, err)

	p := NewMongoSubscriberProvider(db, constants.DefaultSubscriberCollection)

	attrs, err := p.Fetch(ctx, Request{Source: constants.SourceSubscriber, Key: "sub-1"})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", attrs["email"])
	assert.Equal(t, true, attrs["isOnline"])

	_, err = p.Fetch(ctx, Request{Source: constants.SourceSubscriber, Key: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolverWithCachedSubscribers(t *testing.T) {
	db := testinfra.Mongo(t)
	rdb := testinfra.Redis(t)
	ctx := context.Background()

	collection := db.Collection(constants.DefaultSubscriberCollection)
	_, err := collection.InsertOne(ctx, models.Subscriber{SubscriberID: "sub-1", Email: "jane@example.com"})
	require.NoError(t, err)

	cfg := &config.Config{
		Resolver: config.ResolverConfig{
			Subscriber: config.SubscriberConfig{CacheTTLSeconds: 60},
		},
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: true},
	}
	r := NewFromConfig(cfg, Dependencies{Redis: rdb, MongoDB: db}, logger.NopLogger())

	leaf := subscriberLeaf("email", "jane@example.com")
	fc, err := r.BuildContext(ctx, testEnvelope(), []filter.Node{leaf})
	require.NoError(t, err)
	ok, err := filter.Evaluate(leaf, fc)
	require.NoError(t, err)
	assert.True(t, ok)

	key := CacheKey(constants.CacheKeyPrefixSubscriber, Request{Key: "sub-1"})
	exists, err := rdb.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	_, err = collection.DeleteOne(ctx, bson.M{"subscriberId": "sub-1"})
	require.NoError(t, err)

	fc, err = r.BuildContext(ctx, testEnvelope(), []filter.Node{leaf})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", fc.Subscriber["email"], "served from cache after the document is gone")
}

func TestCacheProviderRemembersMissingSubscriber(t *testing.T) {
	rdb := testinfra.Redis(t)
	ctx := context.Background()

	var calls int
	inner := ProviderFunc(func(ctx context.Context, req Request) (map[string]interface{}, error) {
		calls++
		return nil, ErrNotFound
	})
	p := NewCacheProvider(rdb, inner, constants.CacheKeyPrefixSubscriber, time.Minute, logger.NopLogger())

	req := Request{Source: constants.SourceSubscriber, Key: "ghost"}
	for i := 0; i < 3; i++ {
		_, err := p.Fetch(ctx, req)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, 1, calls)

	ttl, err := rdb.TTL(ctx, CacheKey(constants.CacheKeyPrefixSubscriber, req)).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, constants.NegativeCacheTTL)
}
