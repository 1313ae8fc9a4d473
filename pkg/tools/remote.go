package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SessionHeader carries the session id on every collaborator request.
const SessionHeader = "X-AVR-UUID"

// maxRemoteBody bounds how much of a webhook response is read.
const maxRemoteBody = 1 << 20

// Remote invokes a tool hosted behind an HTTP endpoint.
type Remote struct {
	URL     string
	Headers []Header
	Client  *http.Client
}

// NewRemote builds a remote handler. A nil client uses http.DefaultClient.
func NewRemote(desc HandlerDescriptor, client *http.Client) Remote {
	return Remote{URL: desc.URL, Headers: desc.Headers, Client: client}
}

func (Remote) isHandler() {}

// Invoke POSTs the call arguments merged with callerInfo. A JSON response is
// returned decoded, anything else as a string.
func (r Remote) Invoke(ctx context.Context, call Call) (any, error) {
	payload := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
	}
	payload["callerInfo"] = call.Caller

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for _, h := range r.Headers {
		if h.Key == "" {
			continue
		}
		req.Header.Set(h.Key, h.Value)
	}
	if req.Header.Get(SessionHeader) == "" && call.SessionID != "" {
		req.Header.Set(SessionHeader, call.SessionID)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
	}
	return string(data), nil
}
