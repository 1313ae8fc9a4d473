package tools

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// Registry holds the bundled and user-custom tool tiers. It is populated at
// configuration time and turned into a per-session Set by Snapshot.
type Registry struct {
	mu      sync.RWMutex
	bundled map[string]Definition
	custom  map[string]Definition
	order   map[Tier][]string

	client *http.Client
	logger *slog.Logger
}

// NewRegistry creates an empty registry. client is used for every remote
// handler built from this registry; nil selects http.DefaultClient.
func NewRegistry(client *http.Client, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		bundled: make(map[string]Definition),
		custom:  make(map[string]Definition),
		order:   make(map[Tier][]string),
		client:  client,
		logger:  logger,
	}
}

// RegisterBundled adds a tool shipped with the gateway.
// Panics on an empty name, nil handler, or duplicate bundled name.
func (r *Registry) RegisterBundled(def Definition) {
	r.register(TierBundled, r.bundled, def)
}

// RegisterCustom adds a user-custom tool.
// Panics on an empty name, nil handler, or duplicate custom name.
func (r *Registry) RegisterCustom(def Definition) {
	r.register(TierCustom, r.custom, def)
}

// RegisterCustomRemote adds a user-custom webhook tool from a descriptor.
// Unlike RegisterCustom it reports bad input as an error, since descriptors
// come from configuration.
func (r *Registry) RegisterCustomRemote(desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	r.mu.RLock()
	_, exists := r.custom[desc.Name]
	r.mu.RUnlock()
	if exists {
		return fmt.Errorf("tool %s already registered as %s", desc.Name, TierCustom)
	}

	schema, err := decodeSchema(desc.Schema())
	if err != nil {
		return fmt.Errorf("tool %s: %w", desc.Name, err)
	}
	if desc.Handler.URL == "" {
		return fmt.Errorf("tool %s: handler url is required", desc.Name)
	}
	r.RegisterCustom(Definition{
		Name:        desc.Name,
		Description: desc.Description,
		Parameters:  schema,
		Handler:     NewRemote(desc.Handler, r.client),
	})
	return nil
}

func (r *Registry) register(tier Tier, m map[string]Definition, def Definition) {
	if def.Name == "" {
		panic("tool name cannot be empty")
	}
	if def.Handler == nil {
		panic(fmt.Sprintf("tool %s: handler cannot be nil", def.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := m[def.Name]; exists {
		panic(fmt.Sprintf("tool %s already registered as %s", def.Name, tier))
	}
	m[def.Name] = def
	r.order[tier] = append(r.order[tier], def.Name)
}

// List returns the registered definitions, bundled first, each tier in
// registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.bundled)+len(r.custom))
	for _, name := range r.order[TierBundled] {
		defs = append(defs, r.bundled[name])
	}
	for _, name := range r.order[TierCustom] {
		defs = append(defs, r.custom[name])
	}
	return defs
}

// Snapshot builds the tool set for one session from the registered tiers
// and the API-supplied descriptors. Descriptors with no handler URL or an
// unparseable schema are skipped with a warning.
func (r *Registry) Snapshot(descriptors []Descriptor) *Set {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := newSet(r.logger)
	for _, name := range r.order[TierBundled] {
		s.add(TierBundled, r.bundled[name])
	}
	for _, name := range r.order[TierCustom] {
		s.add(TierCustom, r.custom[name])
	}

	for _, desc := range descriptors {
		if desc.Name == "" || desc.Handler.URL == "" {
			r.logger.Warn("Skipping API tool without name or handler url", slog.String("tool", desc.Name))
			continue
		}
		schema, err := decodeSchema(desc.Schema())
		if err != nil {
			r.logger.Warn("Skipping API tool with invalid schema",
				slog.String("tool", desc.Name), slog.Any("error", err))
			continue
		}
		s.add(TierAPI, Definition{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  schema,
			Handler:     NewRemote(desc.Handler, r.client),
		})
	}

	for _, sh := range s.Shadowed() {
		r.logger.Warn("Announced tool schema and dispatched handler differ",
			slog.String("tool", sh.Name),
			slog.String("announced", sh.Announced.String()),
			slog.String("dispatched", sh.Dispatched.String()))
	}
	return s
}
