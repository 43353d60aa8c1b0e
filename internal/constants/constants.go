package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultHTTPTimeout = 10 * time.Second
)

const (
	CacheKeyPrefixSubscriber = "stepgate:subscriber:"
	CacheKeyPrefixWebhook    = "stepgate:webhook:"
)

const (
	DefaultInputTopic  = "trigger_events"
	DefaultOutputTopic = "step_decisions"
)

const (
	DefaultMongoDBName          = "stepgate"
	DefaultSubscriberCollection = "subscribers"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultLimit       = 100
	MaxLimit           = 1000
	DefaultTruncateLen = 100
)

const (
	DefaultCacheTTLSeconds = 300
	NegativeCacheTTL       = 30 * time.Second
)

const (
	HTTPStatusOKMin = 200
	HTTPStatusOKMax = 300
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
	FallbackError = "error"
)

const (
	SourceSubscriber = "subscriber"
	SourceWebhook    = "webhook"
)

const (
	ProviderNameMongoDB = "mongodb"
	ProviderNameCache   = "cache"
	ProviderNameAPI     = "api"
)
