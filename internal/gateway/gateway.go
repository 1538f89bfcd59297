// Package gateway implements the external data providers: flight
// offers, lodging search, local activities, and weather forecasts. All
// gateways are read-only; they never mutate provider state, and an
// empty result set is data, not an error.
package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"context"
)

// defaultHTTPClient bounds every provider call even when the caller's
// context carries no deadline.
var defaultHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// core holds the pieces every gateway shares.
type core struct {
	client  *http.Client
	baseURL string
}

// Option configures a gateway.
type Option func(*core)

// WithHTTPClient overrides the HTTP client, e.g. for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *core) {
		if client != nil {
			c.client = client
		}
	}
}

// WithBaseURL overrides the provider endpoint, e.g. for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *core) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func newCore(baseURL string, options []Option) core {
	c := core{client: defaultHTTPClient, baseURL: baseURL}
	for _, option := range options {
		option(&c)
	}
	return c
}

// getJSON performs a GET against the provider and returns the response
// body as raw JSON. Non-2xx statuses and non-JSON bodies are errors.
func (c core) getJSON(ctx context.Context, query url.Values, headers map[string]string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = query.Encode()
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("provider returned %s: %s", resp.Status, truncate(body, 256))
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("provider returned invalid JSON (%d bytes)", len(body))
	}
	return json.RawMessage(body), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
