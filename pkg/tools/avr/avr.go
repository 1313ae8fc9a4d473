// Package avr provides the tools bundled with the gateway: caller lookup and
// call control through the telephony manager.
package avr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/cierrateam/avr-sts-openai/pkg/tools"
)

// Tool names.
const (
	GetCallerInfo = "avr_get_caller_info"
	Hangup        = "avr_hangup"
	Transfer      = "avr_transfer"
)

// ErrNoCallControl is returned by call-control tools when no telephony
// manager is configured.
var ErrNoCallControl = errors.New("avr: call control not configured")

// CallControl performs actions on the live call.
type CallControl interface {
	Hangup(ctx context.Context, sessionID string) error
	Transfer(ctx context.Context, sessionID, extension, dialContext, priority string) error
}

// Register adds every bundled tool to r. cc may be nil, in which case the
// call-control tools report ErrNoCallControl.
func Register(r *tools.Registry, cc CallControl) {
	for _, def := range Definitions(cc) {
		r.RegisterBundled(def)
	}
}

// Definitions returns the bundled tool definitions.
func Definitions(cc CallControl) []tools.Definition {
	return []tools.Definition{
		{
			Name:        GetCallerInfo,
			Description: "Retrieves information about the current caller such as phone number, name, caller ID or channel.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"info_type": {
						Type:        jsonschema.String,
						Description: "Which caller detail to return.",
						Enum:        []string{"phone", "name", "id", "channel", "all"},
					},
				},
				Required: []string{"info_type"},
			},
			Handler: tools.Local{Fn: callerInfo},
		},
		{
			Name:        Hangup,
			Description: "Ends the current call. Use when the conversation is complete or the caller asks to hang up.",
			Parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: map[string]jsonschema.Definition{},
			},
			Handler: tools.Local{Fn: hangup(cc)},
		},
		{
			Name:        Transfer,
			Description: "Transfers the call to another extension, for example a human operator.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"transfer_extension": {Type: jsonschema.String, Description: "Extension to transfer to."},
					"transfer_context":   {Type: jsonschema.String, Description: "Dialplan context, optional."},
					"transfer_priority":  {Type: jsonschema.String, Description: "Dialplan priority, optional."},
				},
				Required: []string{"transfer_extension"},
			},
			Handler: tools.Local{Fn: transfer(cc)},
		},
	}
}

func callerInfo(_ context.Context, call tools.Call) (any, error) {
	var args struct {
		InfoType string `json:"info_type"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}

	c := call.Caller
	switch args.InfoType {
	case "phone":
		return "Caller phone number: " + orUnknown(c.PhoneNumber), nil
	case "name":
		return "Caller name: " + orUnknown(c.CallerName), nil
	case "id":
		return "Caller ID: " + orUnknown(c.CallerID), nil
	case "channel":
		return "Caller channel: " + orUnknown(c.Channel), nil
	case "all":
		lines := []string{
			"Caller phone number: " + orUnknown(c.PhoneNumber),
			"Caller name: " + orUnknown(c.CallerName),
			"Caller ID: " + orUnknown(c.CallerID),
			"Caller channel: " + orUnknown(c.Channel),
		}
		return strings.Join(lines, "\n"), nil
	default:
		return nil, fmt.Errorf("%w: unknown info_type %q", tools.ErrInvalidArguments, args.InfoType)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func hangup(cc CallControl) tools.LocalFunc {
	return func(ctx context.Context, call tools.Call) (any, error) {
		if cc == nil {
			return nil, ErrNoCallControl
		}
		if err := cc.Hangup(ctx, call.SessionID); err != nil {
			return nil, err
		}
		return "The call has been ended. Say a short goodbye.", nil
	}
}

func transfer(cc CallControl) tools.LocalFunc {
	return func(ctx context.Context, call tools.Call) (any, error) {
		if cc == nil {
			return nil, ErrNoCallControl
		}
		var args struct {
			Extension string `json:"transfer_extension"`
			Context   string `json:"transfer_context"`
			Priority  string `json:"transfer_priority"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		if err := cc.Transfer(ctx, call.SessionID, args.Extension, args.Context, args.Priority); err != nil {
			return nil, err
		}
		return fmt.Sprintf("The call is being transferred to extension %s. Tell the caller to hold.", args.Extension), nil
	}
}
