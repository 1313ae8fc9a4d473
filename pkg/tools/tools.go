// Package tools resolves backend function calls to handlers. Handlers are
// either local Go functions or remote HTTP webhooks described by the agent
// configuration service, and are grouped into three tiers: bundled tools
// shipped with the gateway, user-custom tools registered at configuration
// time, and API tools supplied per session.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrToolNotFound is returned when no tier has a handler for a name.
	ErrToolNotFound = errors.New("tools: tool not found")
	// ErrInvalidArguments is returned when call arguments fail validation.
	ErrInvalidArguments = errors.New("tools: invalid arguments")
)

// Tier identifies where a definition came from.
type Tier int

const (
	TierBundled Tier = iota
	TierCustom
	TierAPI
)

func (t Tier) String() string {
	switch t {
	case TierBundled:
		return "bundled"
	case TierCustom:
		return "custom"
	case TierAPI:
		return "api"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// CallerInfo is the caller metadata known for a session. Empty fields are
// unknown and encode as JSON null, so every key is always present.
type CallerInfo struct {
	PhoneNumber string `json:"phoneNumber"`
	CallerName  string `json:"callerName"`
	CallerID    string `json:"callerId"`
	Channel     string `json:"channel"`
	Context     string `json:"context"`
	Extension   string `json:"extension"`
}

// MarshalJSON implements json.Marshaler.
func (c CallerInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		PhoneNumber *string `json:"phoneNumber"`
		CallerName  *string `json:"callerName"`
		CallerID    *string `json:"callerId"`
		Channel     *string `json:"channel"`
		Context     *string `json:"context"`
		Extension   *string `json:"extension"`
	}{
		PhoneNumber: nullable(c.PhoneNumber),
		CallerName:  nullable(c.CallerName),
		CallerID:    nullable(c.CallerID),
		Channel:     nullable(c.Channel),
		Context:     nullable(c.Context),
		Extension:   nullable(c.Extension),
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IsZero reports whether nothing is known about the caller.
func (c CallerInfo) IsZero() bool {
	return c == CallerInfo{}
}

// Call is one function call issued by the backend.
type Call struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	SessionID string
	Caller    CallerInfo
}

// Handler executes a call. The set of implementations is closed: Local and
// Remote.
type Handler interface {
	Invoke(ctx context.Context, call Call) (any, error)
	isHandler()
}

// LocalFunc is the signature of an in-process tool.
type LocalFunc func(ctx context.Context, call Call) (any, error)

// Local wraps an in-process tool function.
type Local struct {
	Fn LocalFunc
}

func (l Local) Invoke(ctx context.Context, call Call) (any, error) {
	return l.Fn(ctx, call)
}

func (Local) isHandler() {}

// Definition is a tool as announced to the backend plus its handler.
// Parameters is any value that marshals to a JSON schema object, typically
// a jsonschema.Definition.
type Definition struct {
	Name        string
	Description string
	Parameters  any
	Handler     Handler
}

// Function returns the announced function schema.
func (d Definition) Function() openai.FunctionDefinition {
	return openai.FunctionDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters,
	}
}

// Header is one header entry of a remote handler descriptor.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// HandlerDescriptor locates a remote tool handler.
type HandlerDescriptor struct {
	URL     string   `json:"url"`
	Headers []Header `json:"headers,omitempty"`
}

// Descriptor is a tool supplied by the agent configuration service.
// The schema may be given as input_schema or parameters.
type Descriptor struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	InputSchema json.RawMessage   `json:"input_schema,omitempty"`
	Parameters  json.RawMessage   `json:"parameters,omitempty"`
	Handler     HandlerDescriptor `json:"handler"`
}

// Schema returns the raw parameter schema, defaulting to an empty object.
func (d Descriptor) Schema() json.RawMessage {
	switch {
	case len(d.InputSchema) > 0:
		return d.InputSchema
	case len(d.Parameters) > 0:
		return d.Parameters
	default:
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
}

// FormatResult normalizes a handler result to the text sent back to the
// backend: strings pass through, everything else is JSON-encoded.
func FormatResult(v any) (string, error) {
	switch r := v.(type) {
	case nil:
		return "", nil
	case string:
		return r, nil
	case []byte:
		return string(r), nil
	case fmt.Stringer:
		return r.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool result: %w", err)
	}
	return string(b), nil
}
