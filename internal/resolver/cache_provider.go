package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"stepgate/internal/constants"
	"stepgate/internal/logger"
	"stepgate/pkg/metrics"
)

// notFoundMarker is cached for documents the provider reported missing.
const notFoundMarker = "null"

// CacheProvider serves fetches from Redis and fills the cache from the
// wrapped provider on a miss. Redis failures fall through to the provider.
// ErrNotFound is cached for at most constants.NegativeCacheTTL.
type CacheProvider struct {
	client   *redis.Client
	provider Provider
	prefix   string
	ttl      time.Duration
	logger   logger.Logger
}

func NewCacheProvider(client *redis.Client, provider Provider, prefix string, ttl time.Duration, log logger.Logger) *CacheProvider {
	return &CacheProvider{
		client:   client,
		provider: provider,
		prefix:   prefix,
		ttl:      ttl,
		logger:   log,
	}
}

func (p *CacheProvider) Fetch(ctx context.Context, req Request) (map[string]interface{}, error) {
	key := CacheKey(p.prefix, req)

	val, err := p.client.Get(ctx, key).Result()
	switch {
	case err == nil && val == notFoundMarker:
		metrics.IncResolverCache(req.Source, "hit")
		return nil, ErrNotFound
	case err == nil:
		var cached map[string]interface{}
		if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil {
			metrics.IncResolverCache(req.Source, "hit")
			return cached, nil
		}
		p.logger.WarnwCtx(ctx, "Failed to unmarshal cache value", "cache_key", key)
	case errors.Is(err, redis.Nil):
	default:
		p.logger.WarnwCtx(ctx, "Redis get failed, fetching from provider",
			"cache_key", key,
			"error", err,
		)
	}

	metrics.IncResolverCache(req.Source, "miss")
	data, err := p.provider.Fetch(ctx, req)
	if errors.Is(err, ErrNotFound) {
		p.storeNotFound(ctx, key)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	p.store(ctx, key, data)
	return data, nil
}

func (p *CacheProvider) store(ctx context.Context, key string, data map[string]interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		p.logger.WarnwCtx(ctx, "Failed to marshal cache value", "cache_key", key, "error", err)
		return
	}
	if err := p.client.Set(ctx, key, body, p.ttl).Err(); err != nil {
		p.logger.WarnwCtx(ctx, "Failed to write cache", "cache_key", key, "error", err)
	}
}

func (p *CacheProvider) storeNotFound(ctx context.Context, key string) {
	if err := p.client.Set(ctx, key, notFoundMarker, negativeTTL(p.ttl)).Err(); err != nil {
		p.logger.WarnwCtx(ctx, "Failed to write cache", "cache_key", key, "error", err)
	}
}

func negativeTTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < constants.NegativeCacheTTL {
		return ttl
	}
	return constants.NegativeCacheTTL
}

// CacheKey derives the Redis key for req. Subscriber keys are the plain id.
// Webhook responses depend on the posted body, so URL and body are hashed.
func CacheKey(prefix string, req Request) string {
	if len(req.Body) == 0 {
		return prefix + req.Key
	}

	h := sha256.New()
	h.Write([]byte(req.Key))
	body, _ := json.Marshal(req.Body)
	h.Write(body)
	return prefix + hex.EncodeToString(h.Sum(nil))
}
