// Package agentapi fetches per-agent configuration (system instructions,
// tool descriptors, greeting) from the agent configuration service.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cierrateam/avr-sts-openai/pkg/tools"
)

// ErrNotConfigured is returned when no base URL or agent id is set.
var ErrNotConfigured = errors.New("agentapi: not configured")

// Resolver supplies agent configuration for a session.
type Resolver interface {
	Instructions(ctx context.Context, sessionID string) (string, error)
	Tools(ctx context.Context, sessionID string) ([]tools.Descriptor, error)
	Greeting(ctx context.Context, sessionID string) (string, error)
}

// Client is the HTTP Resolver.
type Client struct {
	baseURL    string
	agentID    string
	headers    map[string]string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each request. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(c *Client) { c.headers[key] = value }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for agentID at baseURL.
func NewClient(baseURL, agentID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		agentID:    agentID,
		headers:    make(map[string]string),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Instructions returns the agent's system instructions.
func (c *Client) Instructions(ctx context.Context, sessionID string) (string, error) {
	body, ct, err := c.get(ctx, "system-instructions", sessionID)
	if err != nil {
		return "", err
	}
	return textField(body, ct, "instructions")
}

// Greeting returns the agent's greeting, or "" when the agent has none.
func (c *Client) Greeting(ctx context.Context, sessionID string) (string, error) {
	body, ct, err := c.get(ctx, "greeting", sessionID)
	if err != nil {
		return "", err
	}
	return textField(body, ct, "greeting")
}

// Tools returns the agent's remote tool descriptors. Both {"tools": [...]}
// and a bare array are accepted.
func (c *Client) Tools(ctx context.Context, sessionID string) ([]tools.Descriptor, error) {
	body, _, err := c.get(ctx, "tools", sessionID)
	if err != nil {
		return nil, err
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var list []tools.Descriptor
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("failed to decode tools: %w", err)
		}
		return list, nil
	}

	var wrapped struct {
		Tools []tools.Descriptor `json:"tools"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode tools: %w", err)
	}
	return wrapped.Tools, nil
}

func (c *Client) get(ctx context.Context, resource, sessionID string) ([]byte, string, error) {
	if c.baseURL == "" || c.agentID == "" {
		return nil, "", ErrNotConfigured
	}

	endpoint := fmt.Sprintf("%s/api/agents/%s/%s", c.baseURL, url.PathEscape(c.agentID), resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(tools.SessionHeader, sessionID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// textField extracts field from a JSON object body, or returns a plain-text
// body as is.
func textField(body []byte, contentType, field string) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", nil
	}
	switch {
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s, nil
		}
	case trimmed[0] != '{' && !strings.Contains(contentType, "json"):
		return string(trimmed), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", field, err)
	}
	raw, ok := obj[field]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s is not a string: %w", field, err)
	}
	return s, nil
}
