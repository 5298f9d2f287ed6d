// Package registry maps tool names to their descriptors: input schema,
// handler, and approval default. Tools register once at startup; lookups are
// concurrent.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrSchema marks parameter validation failures so adapters can map them
// distinctly from other invalid parameters.
var ErrSchema = errors.New("parameters failed schema validation")

// Handler is a tool body. It receives schema-valid, template-expanded
// params and returns a JSON-shaped result.
type Handler func(ctx context.Context, params map[string]any) (map[string]any, error)

// Descriptor binds one (category, name) pair to its schema and handler.
// HITLReason labels the approval request when RequiresHITL sends the
// invocation through review.
type Descriptor struct {
	Category     string
	Name         string
	Description  string
	InputSchema  json.RawMessage
	RequiresHITL bool
	HITLReason   string
	Handler      Handler

	compiled *jsonschema.Schema
}

// FullName returns the wire-level tool name, "{category}_{name}".
func (d *Descriptor) FullName() string {
	return d.Category + "_" + d.Name
}

// ValidateParams checks params against the descriptor's compiled schema.
// Failures wrap ErrSchema.
func (d *Descriptor) ValidateParams(params map[string]any) error {
	if d.compiled == nil {
		return nil
	}
	if err := d.compiled.Validate(anyParams(params)); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}

// anyParams keeps nil maps valid against object schemas.
func anyParams(params map[string]any) any {
	if params == nil {
		return map[string]any{}
	}
	return params
}

// Registry is the tool table.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// Register adds a descriptor, compiling its input schema. Categories must
// not contain underscores: the full tool name is split on the first one.
func (r *Registry) Register(d *Descriptor) error {
	if d.Category == "" || d.Name == "" {
		return fmt.Errorf("tool descriptor needs category and name")
	}
	if strings.Contains(d.Category, "_") {
		return fmt.Errorf("tool category %q must not contain underscores", d.Category)
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %s has no handler", d.FullName())
	}

	if len(d.InputSchema) > 0 {
		var doc any
		if err := json.Unmarshal(d.InputSchema, &doc); err != nil {
			return fmt.Errorf("tool %s: unmarshal schema: %w", d.FullName(), err)
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("schema.json", doc); err != nil {
			return fmt.Errorf("tool %s: add schema resource: %w", d.FullName(), err)
		}
		compiled, err := c.Compile("schema.json")
		if err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", d.FullName(), err)
		}
		d.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.FullName()]; exists {
		return fmt.Errorf("tool %s already registered", d.FullName())
	}
	r.tools[d.FullName()] = d
	return nil
}

// MustRegister panics on registration failure. Tool tables are wired at
// startup, where a bad descriptor is a programming error.
func (r *Registry) MustRegister(d *Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Get returns the descriptor for an exact (category, name) pair.
func (r *Registry) Get(category, name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[category+"_"+name]
	return d, ok
}

// Lookup resolves a full tool name, splitting on the first underscore.
func (r *Registry) Lookup(fullName string) (*Descriptor, bool) {
	category, name, ok := strings.Cut(fullName, "_")
	if !ok {
		return nil, false
	}
	return r.Get(category, name)
}

// List returns all descriptors ordered by full name.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	out := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].FullName() < out[j].FullName()
	})
	return out
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
