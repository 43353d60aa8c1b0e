package resolver

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"stepgate/internal/config"
	"stepgate/internal/constants"
	"stepgate/internal/logger"
	"stepgate/pkg/circuitbreaker"
)

// Dependencies are the optional backing stores of a resolver.
type Dependencies struct {
	Redis   *redis.Client
	MongoDB *mongo.Database
}

// NewFromConfig wires the provider chain: source, then circuit breaker,
// then Redis cache when a TTL is configured.
func NewFromConfig(cfg *config.Config, deps Dependencies, log logger.Logger) *Resolver {
	var subscribers Provider
	if deps.MongoDB != nil {
		subscribers = NewMongoSubscriberProvider(deps.MongoDB, cfg.Resolver.Subscriber.CollectionName())
		subscribers = withBreaker(subscribers, constants.ProviderNameMongoDB, cfg.CircuitBreaker)
		subscribers = withCache(subscribers, deps.Redis, constants.CacheKeyPrefixSubscriber, cfg.Resolver.Subscriber.CacheTTLSeconds, log)
	}

	var webhooks Provider = NewAPIProvider(
		time.Duration(cfg.Resolver.Webhook.TimeoutSeconds)*time.Second,
		cfg.Resolver.Webhook.Headers,
	)
	webhooks = withBreaker(webhooks, constants.ProviderNameAPI, cfg.CircuitBreaker)
	webhooks = withCache(webhooks, deps.Redis, constants.CacheKeyPrefixWebhook, cfg.Resolver.Webhook.CacheTTLSeconds, log)

	return New(subscribers, webhooks, log)
}

func withBreaker(p Provider, name string, cfg config.CircuitBreakerConfig) Provider {
	if !cfg.Enabled {
		return p
	}
	return NewCircuitBreakerProvider(p, BreakerConfig(name, cfg))
}

func withCache(p Provider, client *redis.Client, prefix string, ttlSeconds int, log logger.Logger) Provider {
	if client == nil || ttlSeconds <= 0 {
		return p
	}
	return NewCacheProvider(client, p, prefix, time.Duration(ttlSeconds)*time.Second, log)
}

// BreakerConfig maps service configuration onto a named breaker. Zero
// values keep the breaker defaults.
func BreakerConfig(name string, cfg config.CircuitBreakerConfig) circuitbreaker.Config {
	cb := circuitbreaker.DefaultConfig(name)
	if cfg.MaxRequests > 0 {
		cb.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cb.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cb.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 {
		minRequests := cfg.MinRequests
		if minRequests == 0 {
			minRequests = 3
		}
		cb.ReadyToTrip = circuitbreaker.RatioTrip(minRequests, cfg.FailureRatio)
	}
	return cb
}
