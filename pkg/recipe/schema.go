package recipe

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Schema rewrites a recipe before execution to satisfy delivery constraints
// of a data domain: buffering the region, injecting hook arguments, or
// appending post-processing hooks.
type Schema interface {
	// Name is the identifier recipes reference under domain.schema.
	Name() string

	// Apply mutates the recipe in place. Implementations receive a clone of
	// the user's recipe and may rewrite it freely; on error the original
	// recipe is left untouched by the registry.
	Apply(r *Recipe) error
}

// Schema application errors.
var (
	ErrUnknownSchema = errors.New("unknown domain schema")
	ErrSchemaApplied = errors.New("domain schema already applied")
)

// SchemaRegistry holds the named domain schemas available to recipes.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewSchemaRegistry returns an empty schema registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: map[string]Schema{}}
}

// Register adds a schema. Re-registering a name replaces the previous entry.
func (sr *SchemaRegistry) Register(s Schema) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[s.Name()] = s
}

// Names returns the registered schema names, sorted.
func (sr *SchemaRegistry) Names() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	names := make([]string, 0, len(sr.schemas))
	for n := range sr.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply runs the recipe's domain schema, if any, and returns the rewritten
// recipe. The input recipe is never modified. Applying a schema to a recipe
// already marked applied fails rather than compounding the rewrite: buffer
// expansion and hook injection are not idempotent.
func (sr *SchemaRegistry) Apply(r *Recipe) (*Recipe, error) {
	if r.Domain == nil || r.Domain.Schema == "" {
		return r, nil
	}
	if r.Domain.Applied {
		return nil, fmt.Errorf("schema %q: %w", r.Domain.Schema, ErrSchemaApplied)
	}

	sr.mu.RLock()
	s, ok := sr.schemas[r.Domain.Schema]
	sr.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("schema %q: %w", r.Domain.Schema, ErrUnknownSchema)
	}

	out := r.Clone()
	if err := s.Apply(out); err != nil {
		return nil, fmt.Errorf("applying schema %q: %w", r.Domain.Schema, err)
	}
	out.Domain.Applied = true
	return out, nil
}
