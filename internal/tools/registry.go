// Package tools holds the promoted-tool registry, the per-agent allowlist
// filter and the HTTP dispatcher the ReAct loop calls tools through.
package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jsquire4/tool-forge-sub001/pkg/models"
)

// Registry holds the tool specs visible to the loop. Only promoted specs are
// admitted; names must be unique.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*models.ToolSpec
	order []string
}

// NewRegistry validates and loads the given specs. Non-promoted specs are
// skipped silently; a duplicate promoted name or a nameless spec is a
// configuration error.
func NewRegistry(specs []models.ToolSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*models.ToolSpec)}
	for i := range specs {
		spec := specs[i]
		if spec.Lifecycle != models.ToolPromoted {
			continue
		}
		if spec.Name == "" {
			return nil, fmt.Errorf("tools: promoted spec %d has no name", i)
		}
		if _, dup := r.specs[spec.Name]; dup {
			return nil, fmt.Errorf("tools: duplicate promoted tool %q", spec.Name)
		}
		r.specs[spec.Name] = &spec
		r.order = append(r.order, spec.Name)
	}
	return r, nil
}

// Get returns the promoted spec by name, or nil.
func (r *Registry) Get(name string) *models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs[name]
}

// All returns every promoted spec in load order.
func (r *Registry) All() []models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.specs[name])
	}
	return out
}

// FilterAllowed applies an agent allowlist: "*" (or empty) means every
// promoted tool; otherwise the allowlist is a JSON-encoded string list. A
// malformed list makes no tools visible.
func FilterAllowed(specs []models.ToolSpec, allowlist string) []models.ToolSpec {
	if allowlist == "" || allowlist == "*" {
		return specs
	}
	var names []string
	if err := json.Unmarshal([]byte(allowlist), &names); err != nil {
		return nil
	}
	allowed := make(map[string]bool, len(names))
	for _, name := range names {
		allowed[name] = true
	}
	var out []models.ToolSpec
	for _, spec := range specs {
		if allowed[spec.Name] {
			out = append(out, spec)
		}
	}
	return out
}
