package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"stepgate/internal/constants"
)

// APIProvider resolves webhook conditions by POSTing the request body to
// the condition URL and decoding the JSON object it returns.
type APIProvider struct {
	client  *http.Client
	headers map[string]string
}

func NewAPIProvider(timeout time.Duration, headers map[string]string) *APIProvider {
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &APIProvider{
		client: &http.Client{
			Timeout: timeout,
		},
		headers: headers,
	}
}

func (p *APIProvider) Fetch(ctx context.Context, req Request) (map[string]interface{}, error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Key, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		return nil, fmt.Errorf("webhook returned status: %d", resp.StatusCode)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode webhook response: %w", err)
	}
	if result == nil {
		result = map[string]interface{}{}
	}

	return result, nil
}
