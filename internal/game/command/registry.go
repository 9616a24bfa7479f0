package command

import (
	"fmt"
	"sort"
)

// Registry maps command names and aliases to Definitions.
// A Registry is immutable after construction and safe for concurrent use.
type Registry struct {
	commands map[string]*Definition // canonical name → definition
	aliases  map[string]string      // alias → canonical name
	ordered  []*Definition
}

// NewRegistry creates a Registry populated with the given definitions.
//
// Precondition: No two definitions may share a canonical name or alias.
// Postcondition: Returns a Registry or an error on name/alias collisions.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{
		commands: make(map[string]*Definition, len(defs)),
		aliases:  make(map[string]string),
	}

	for i := range defs {
		def := &defs[i]
		if def.Verb == VerbUnknown {
			return nil, fmt.Errorf("command %q has no verb", def.Name)
		}
		if _, exists := r.commands[def.Name]; exists {
			return nil, fmt.Errorf("duplicate command name: %q", def.Name)
		}
		if _, exists := r.aliases[def.Name]; exists {
			return nil, fmt.Errorf("command name %q conflicts with an existing alias", def.Name)
		}
		r.commands[def.Name] = def
		r.ordered = append(r.ordered, def)

		for _, alias := range def.Aliases {
			if _, exists := r.commands[alias]; exists {
				return nil, fmt.Errorf("alias %q conflicts with command name %q", alias, alias)
			}
			if existing, exists := r.aliases[alias]; exists {
				return nil, fmt.Errorf("duplicate alias %q: used by %q and %q", alias, existing, def.Name)
			}
			r.aliases[alias] = def.Name
		}
	}

	return r, nil
}

// DefaultRegistry creates a Registry with all built-in commands.
//
// Postcondition: Returns a Registry with all built-in commands registered.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(BuiltinDefinitions())
	if err != nil {
		panic(fmt.Sprintf("building default registry: %v", err))
	}
	return r
}

// Resolve looks up a definition by canonical name or alias.
//
// Postcondition: Returns (definition, true) if found, or (nil, false).
func (r *Registry) Resolve(input string) (*Definition, bool) {
	if def, ok := r.commands[input]; ok {
		return def, true
	}
	if canonical, ok := r.aliases[input]; ok {
		return r.commands[canonical], true
	}
	return nil, false
}

// Definitions returns all registered definitions in registration order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.ordered))
	for i, def := range r.ordered {
		out[i] = *def
	}
	return out
}

// DefinitionsByCategory returns definitions grouped by category, each group
// sorted by name.
func (r *Registry) DefinitionsByCategory() map[string][]Definition {
	categories := make(map[string][]Definition)
	for _, def := range r.ordered {
		categories[def.Category] = append(categories[def.Category], *def)
	}
	for _, defs := range categories {
		sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	}
	return categories
}
