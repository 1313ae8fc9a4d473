package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type entry struct {
	def    Definition
	tier   Tier
	schema *gojsonschema.Schema
}

// Shadow records a name whose announced definition comes from a different
// tier than the handler that runs on dispatch.
type Shadow struct {
	Name       string
	Announced  Tier
	Dispatched Tier
}

// Set is the immutable tool view of one session.
type Set struct {
	tiers     [3]map[string]*entry
	announced []*entry
	index     map[string]int
	logger    *slog.Logger
}

func newSet(logger *slog.Logger) *Set {
	s := &Set{index: make(map[string]int), logger: logger}
	for i := range s.tiers {
		s.tiers[i] = make(map[string]*entry)
	}
	return s
}

func (s *Set) add(tier Tier, def Definition) {
	e := &entry{def: def, tier: tier}
	if def.Parameters != nil {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Parameters))
		if err != nil {
			s.logger.Warn("Tool schema does not compile; arguments will not be validated",
				slog.String("tool", def.Name), slog.Any("error", err))
		} else {
			e.schema = schema
		}
	}
	s.tiers[tier][def.Name] = e

	// Announced definitions are last-writer-wins, keeping the first position.
	if i, ok := s.index[def.Name]; ok {
		s.announced[i] = e
		return
	}
	s.index[def.Name] = len(s.announced)
	s.announced = append(s.announced, e)
}

// Definitions returns the merged definitions announced to the backend.
func (s *Set) Definitions() []Definition {
	defs := make([]Definition, len(s.announced))
	for i, e := range s.announced {
		defs[i] = e.def
	}
	return defs
}

// Len returns the number of announced tools.
func (s *Set) Len() int {
	return len(s.announced)
}

// Resolve finds the handler for name, checking bundled, custom, then API
// tools.
func (s *Set) Resolve(name string) (Definition, Tier, error) {
	e, err := s.resolve(name)
	if err != nil {
		return Definition{}, 0, err
	}
	return e.def, e.tier, nil
}

func (s *Set) resolve(name string) (*entry, error) {
	for _, tier := range []Tier{TierBundled, TierCustom, TierAPI} {
		if e, ok := s.tiers[tier][name]; ok {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
}

// Shadowed lists names where the announced schema and the dispatched
// handler come from different tiers.
func (s *Set) Shadowed() []Shadow {
	var out []Shadow
	for _, e := range s.announced {
		d, err := s.resolve(e.def.Name)
		if err != nil || d.tier == e.tier {
			continue
		}
		out = append(out, Shadow{Name: e.def.Name, Announced: e.tier, Dispatched: d.tier})
	}
	return out
}

// Dispatch validates the call arguments against the resolved tool's schema
// and invokes its handler.
func (s *Set) Dispatch(ctx context.Context, call Call) (any, Tier, error) {
	e, err := s.resolve(call.Name)
	if err != nil {
		return nil, 0, err
	}

	args, raw, err := parseArguments(call.Arguments)
	if err != nil {
		return nil, e.tier, err
	}
	if e.schema != nil {
		result, err := e.schema.Validate(gojsonschema.NewGoLoader(args))
		if err != nil {
			return nil, e.tier, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, re := range result.Errors() {
				msgs = append(msgs, re.String())
			}
			return nil, e.tier, fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
		}
	}

	call.Arguments = raw
	v, err := e.def.Handler.Invoke(ctx, call)
	if err != nil {
		return nil, e.tier, fmt.Errorf("tool %s: %w", call.Name, err)
	}
	return v, e.tier, nil
}

// parseArguments decodes the backend's JSON-encoded arguments. An empty
// payload is treated as an empty object.
func parseArguments(raw json.RawMessage) (map[string]any, json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, raw, nil
}

// decodeSchema parses a descriptor schema into a generic JSON object.
func decodeSchema(raw json.RawMessage) (map[string]any, error) {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	if schema == nil {
		return nil, fmt.Errorf("invalid schema: not an object")
	}
	return schema, nil
}
