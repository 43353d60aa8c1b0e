package resolver

import (
	"context"
	"errors"
)

// ErrNotFound is returned by providers when the requested document does not
// exist. It is not a fetch failure.
var ErrNotFound = errors.New("document not found")

// Request identifies one document to fetch. Key is the subscriber id for
// subscriber lookups and the URL for webhook calls.
type Request struct {
	Source string
	Key    string
	Body   map[string]interface{}
}

type Provider interface {
	Fetch(ctx context.Context, req Request) (map[string]interface{}, error)
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (map[string]interface{}, error)

func (f ProviderFunc) Fetch(ctx context.Context, req Request) (map[string]interface{}, error) {
	return f(ctx, req)
}
