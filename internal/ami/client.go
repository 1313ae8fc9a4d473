// Package ami talks to the telephony manager's HTTP bridge: it resolves
// caller metadata for a session and performs call control.
package ami

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cierrateam/avr-sts-openai/pkg/tools"
)

// ErrNotConfigured is returned when no bridge URL is set.
var ErrNotConfigured = errors.New("ami: not configured")

// Client is the HTTP bridge client. It resolves caller metadata and
// implements avr.CallControl.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for baseURL. A zero timeout means none.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// variables is the bridge's caller record. Asterisk channel variable names
// are accepted alongside the camelCase form.
type variables struct {
	PhoneNumber  string `json:"phoneNumber"`
	CallerIDNum  string `json:"CALLERID(num)"`
	CallerName   string `json:"callerName"`
	CallerIDName string `json:"CALLERID(name)"`
	CallerID     string `json:"callerId"`
	Channel      string `json:"channel"`
	Context      string `json:"context"`
	Extension    string `json:"extension"`
	Exten        string `json:"exten"`
}

// CallerInfo fetches the caller record for sessionID.
func (c *Client) CallerInfo(ctx context.Context, sessionID string) (tools.CallerInfo, error) {
	var v variables
	if err := c.post(ctx, "variables", map[string]string{"uuid": sessionID}, &v); err != nil {
		return tools.CallerInfo{}, err
	}
	return tools.CallerInfo{
		PhoneNumber: first(v.PhoneNumber, v.CallerIDNum),
		CallerName:  first(v.CallerName, v.CallerIDName),
		CallerID:    first(v.CallerID, v.CallerIDNum),
		Channel:     v.Channel,
		Context:     v.Context,
		Extension:   first(v.Extension, v.Exten),
	}, nil
}

// Hangup ends the call bound to sessionID.
func (c *Client) Hangup(ctx context.Context, sessionID string) error {
	return c.post(ctx, "hangup", map[string]string{"uuid": sessionID}, nil)
}

// Transfer redirects the call bound to sessionID.
func (c *Client) Transfer(ctx context.Context, sessionID, extension, dialContext, priority string) error {
	if dialContext == "" {
		dialContext = "from-internal"
	}
	if priority == "" {
		priority = "1"
	}
	return c.post(ctx, "transfer", map[string]string{
		"uuid":     sessionID,
		"exten":    extension,
		"context":  dialContext,
		"priority": priority,
	}, nil)
}

func (c *Client) post(ctx context.Context, action string, payload any, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+action, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: HTTP request failed: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: HTTP %d: %s", action, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", action, err)
	}
	return nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
