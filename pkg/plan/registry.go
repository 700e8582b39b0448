package plan

import (
	"sort"

	"github.com/cuemby/fleetd/pkg/deploy"
	"github.com/cuemby/fleetd/pkg/types"
)

// DefaultVariant is used by modules with no registry entry
const DefaultVariant = "default"

// Variant is specialised behaviour wrapped around the generic driver
type Variant struct {
	Name string
	Kind types.ModuleKind // Required module kind; empty accepts any
	Pre  []deploy.Step
	Post []deploy.Step
}

// Registry maps module names to variants. It is built once at startup.
type Registry struct {
	variants map[string]Variant
}

// NewRegistry creates a registry holding variants
func NewRegistry(variants ...Variant) *Registry {
	r := &Registry{variants: make(map[string]Variant, len(variants))}
	for _, v := range variants {
		r.variants[v.Name] = v
	}
	return r
}

// DefaultRegistry holds the built-in variants
func DefaultRegistry() *Registry {
	return NewRegistry(SysctlVariant(), MariaDBVariant())
}

// Lookup returns the variant registered for name
func (r *Registry) Lookup(name string) (Variant, bool) {
	if r == nil {
		return Variant{}, false
	}
	v, ok := r.variants[name]
	return v, ok
}

// Names lists registered variant names in sorted order
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.variants))
	for n := range r.variants {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Resolve picks the variant for a module. A module declared registered
// must have an entry; any other module falls back to the default variant.
func (r *Registry) Resolve(m *types.Module) (Variant, error) {
	v, ok := r.Lookup(m.Name)
	if !ok {
		if m.Registered {
			return Variant{}, types.NewConfigurationError("module "+m.Name, "declared registered but no variant exists")
		}
		return Variant{Name: DefaultVariant}, nil
	}
	if v.Kind != "" && v.Kind != m.Kind {
		return Variant{}, types.NewConfigurationError("module "+m.Name, "variant %s requires kind %s, got %s", v.Name, v.Kind, m.Kind)
	}
	return v, nil
}
