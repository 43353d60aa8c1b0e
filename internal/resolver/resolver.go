// Package resolver builds the evaluation context a step filter reads: the
// trigger event itself plus stored subscriber profiles and webhook
// responses fetched on demand.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stepgate/internal/constants"
	"stepgate/internal/logger"
	pkgerrors "stepgate/pkg/errors"
	"stepgate/pkg/filter"
	"stepgate/pkg/metrics"
	"stepgate/pkg/models"
	"stepgate/pkg/tracing"
)

const maxParallelWebhooks = 4

type Resolver struct {
	subscribers Provider
	webhooks    Provider
	now         func() time.Time
	logger      logger.Logger
}

// New creates a resolver. Either provider may be nil; the matching part of
// the context is then taken from the envelope alone.
func New(subscribers, webhooks Provider, log logger.Logger) *Resolver {
	return &Resolver{
		subscribers: subscribers,
		webhooks:    webhooks,
		now:         time.Now,
		logger:      log,
	}
}

// WithClock fixes the clock used for isOnlineInLast conditions.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// FromEnvelope builds a context from the event alone.
func FromEnvelope(msg models.MessageEnvelope, now time.Time) *filter.MapContext {
	steps := make(map[string]map[string]interface{}, len(msg.ExecutedSteps))
	for _, step := range msg.ExecutedSteps {
		steps[step.StepID] = map[string]interface{}{
			"read":   step.Read,
			"seen":   step.Seen,
			"status": step.Status,
		}
	}

	return &filter.MapContext{
		Payload:    msg.Payload,
		Subscriber: msg.Subscriber.Attributes(),
		Tenant:     msg.Tenant,
		Steps:      steps,
		Webhooks:   map[string]map[string]interface{}{},
		Clock:      now,
	}
}

// BuildContext snapshots everything nodes may read for msg. Only the
// sources the trees reference are fetched.
func (r *Resolver) BuildContext(ctx context.Context, msg models.MessageEnvelope, nodes []filter.Node) (*filter.MapContext, error) {
	ctx, span := tracing.StartSpan(ctx, "filtering-service", "resolver.build_context")
	defer span.End()

	fc := FromEnvelope(msg, r.now())

	if r.subscribers != nil && needsSubscriber(nodes) && msg.Subscriber.SubscriberID != "" {
		attrs, err := r.subscriberAttributes(ctx, msg.Subscriber)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		fc.Subscriber = attrs
	}

	if r.webhooks != nil {
		responses, err := r.fetchWebhooks(ctx, msg, fc, filter.WebhookURLs(nodes...))
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		fc.Webhooks = responses
	}

	return fc, nil
}

func needsSubscriber(nodes []filter.Node) bool {
	return filter.References(filter.TypeSubscriber, nodes...) ||
		filter.References(filter.TypeIsOnline, nodes...) ||
		filter.References(filter.TypeIsOnlineInLast, nodes...)
}

func (r *Resolver) subscriberAttributes(ctx context.Context, sent models.Subscriber) (map[string]interface{}, error) {
	data, err := r.fetch(ctx, r.subscribers, Request{
		Source: constants.SourceSubscriber,
		Key:    sent.SubscriberID,
	})
	if errors.Is(err, ErrNotFound) {
		r.logger.DebugwCtx(ctx, "Subscriber profile not found, using event subscriber",
			"subscriber_id", sent.SubscriberID,
		)
		return sent.Attributes(), nil
	}
	if err != nil {
		return nil, err
	}

	stored, err := decodeSubscriber(data)
	if err != nil {
		return nil, pkgerrors.ErrInternal.WithCause(err).WithDetail("source", constants.SourceSubscriber)
	}
	return sent.Merge(stored).Attributes(), nil
}

func (r *Resolver) fetchWebhooks(ctx context.Context, msg models.MessageEnvelope, fc *filter.MapContext, urls []string) (map[string]map[string]interface{}, error) {
	responses := make(map[string]map[string]interface{}, len(urls))
	if len(urls) == 0 {
		return responses, nil
	}

	body := map[string]interface{}{
		"payload":    msg.Payload,
		"subscriber": fc.Subscriber,
		"tenant":     msg.Tenant,
	}

	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelWebhooks)
	for _, url := range urls {
		url := url
		g.Go(func() error {
			data, err := r.fetch(gCtx, r.webhooks, Request{
				Source: constants.SourceWebhook,
				Key:    url,
				Body:   body,
			})
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			responses[url] = data
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

// fetch calls p and turns source failures into retryable service errors.
func (r *Resolver) fetch(ctx context.Context, p Provider, req Request) (map[string]interface{}, error) {
	start := time.Now()
	data, err := p.Fetch(ctx, req)
	metrics.ObserveResolverDuration(req.Source, time.Since(start))

	switch {
	case err == nil:
		metrics.IncResolverRequest(req.Source, "success")
		return data, nil
	case errors.Is(err, ErrNotFound):
		metrics.IncResolverRequest(req.Source, "not_found")
		return nil, err
	default:
		metrics.IncResolverRequest(req.Source, "error")
		r.logger.WarnwCtx(ctx, "Context source fetch failed",
			"source", req.Source,
			"key", req.Key,
			"error", err,
		)
		return nil, pkgerrors.ErrServiceUnavailable.
			WithCause(fmt.Errorf("%s fetch failed: %w", req.Source, err)).
			WithDetail("source", req.Source)
	}
}

func decodeSubscriber(data map[string]interface{}) (models.Subscriber, error) {
	var s models.Subscriber
	body, err := json.Marshal(data)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(body, &s)
	return s, err
}
