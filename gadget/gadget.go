// Package gadget defines the gadget contract, the registry, and approval
// policy resolution (spec.md §3.4, §4.8). A gadget is a polymorphic object
// exposing a name, description, schema validator, optional timeout, and an
// execute operation; concrete gadgets are supplied by the embedding
// application, the way goa-ai's tools package carries tool metadata without
// prescribing any one tool's implementation.
package gadget

import (
	"context"
	"fmt"
	"strings"

	"github.com/relayforge/gadgetloop/schema"
)

// Name is the strong type for a gadget's registered identifier, matching
// goa-ai's tools.ID convention of a dedicated string type instead of a bare
// string for registry keys.
type Name string

// Definition is the gadget contract (spec.md §3.4).
type Definition interface {
	Name() Name
	Description() string
	Schema() schema.Validator
	// Timeout returns the gadget-specific timeout, or 0 for "use executor default".
	Timeout() int // milliseconds
	Execute(ctx context.Context, gctx *Ctx, parsed map[string]any) (string, error)
}

// Ctx is passed to Execute. It exposes cost reporting, the agent's model
// configuration, and subagent overrides (spec.md §3.4).
type Ctx struct {
	InvocationID string
	ModelConfig  ModelConfig

	// ReportCost and ReportMedia are optional reporting hooks. The executor,
	// scheduler and loop in this module leave both nil, and reported cost or
	// media is not recorded on the gadget node.
	ReportCost func(usd float64)
	ReportMedia func(media any)

	// SubagentConfig carries overrides a subagent gadget applies to its
	// nested agent loop (spec.md §4.4 "Subagent gadgets").
	SubagentConfig *SubagentConfig
}

// ModelConfig is the model/temperature configuration visible to a gadget.
type ModelConfig struct {
	Model       string
	Temperature float32
}

// SubagentConfig overrides passed to a nested agent loop spawned by a
// subagent gadget.
type SubagentConfig struct {
	BaseDepth    int
	ParentNodeID string
}

// ErrTaskComplete is the task-completion control signal (spec.md §7). The
// executor recognizes it via errors.As, never as a panic.
type ErrTaskComplete struct {
	Message string
}

func (e *ErrTaskComplete) Error() string { return e.Message }

// ErrHumanInputRequired is the human-input-required control signal
// (spec.md §4.4 step 6, §7).
type ErrHumanInputRequired struct {
	Question string
}

func (e *ErrHumanInputRequired) Error() string {
	return fmt.Sprintf("human input required: %s", e.Question)
}

// Registry is a case-insensitive name→gadget mapping (spec.md §4.8).
// Duplicate names are rejected at registration.
type Registry struct {
	byLower map[string]Definition
	names   []string // registration order, for AvailableNames diagnostics
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byLower: map[string]Definition{}}
}

// Register adds def to the registry. Returns an error if a gadget with the
// same name (case-insensitively) is already registered.
func (r *Registry) Register(def Definition) error {
	key := strings.ToLower(string(def.Name()))
	if _, exists := r.byLower[key]; exists {
		return fmt.Errorf("gadget: duplicate registration for %q", def.Name())
	}
	r.byLower[key] = def
	r.names = append(r.names, string(def.Name()))
	return nil
}

// Lookup resolves a gadget by name, case-insensitively.
func (r *Registry) Lookup(name string) (Definition, bool) {
	d, ok := r.byLower[strings.ToLower(name)]
	return d, ok
}

// Names returns the registered gadget names in registration order, used to
// populate RegistryError.AvailableNames (spec.md §4.4 step 1).
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}
