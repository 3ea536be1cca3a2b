package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultView is used when an export does not name a view.
const DefaultView = "public"

// AllFieldsView always resolves to every declared field.
const AllFieldsView = "all"

// Registry holds the record types known to the process. It implements
// ViewResolver and DateFormatter.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*TypeDescriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*TypeDescriptor)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the registry populated by package init functions.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds a type to the registry.
// Panics if a type with the same name (case-insensitively) is already registered.
func (r *Registry) Register(desc TypeDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(desc.Name)
	if _, exists := r.types[key]; exists {
		panic(fmt.Sprintf("type already registered: %s", desc.Name))
	}
	if desc.Table == "" {
		desc.Table = toDBColumnName(desc.Name)
	}

	r.types[key] = &desc
}

// Get returns a type by name, matched case-insensitively.
func (r *Registry) Get(name string) (*TypeDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.types[strings.ToLower(name)]
	return desc, ok
}

// All returns all registered types sorted by name.
func (r *Registry) All() []*TypeDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*TypeDescriptor, 0, len(r.types))
	for _, desc := range r.types {
		result = append(result, desc)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result
}

// FieldsForView returns the ordered field names of a type's view. The
// "all" view, and the default view of a type that declares no views,
// resolve to every declared field.
func (r *Registry) FieldsForView(typeName, view string) ([]string, error) {
	desc, ok := r.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	return desc.FieldsForView(view)
}

// DateFormat returns the layout of a date field.
func (r *Registry) DateFormat(typeName, field string) string {
	desc, ok := r.Get(typeName)
	if !ok {
		return DefaultDateFormat
	}
	return desc.DateFormat(field)
}

// Clear removes all registered types.
// Primarily useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = make(map[string]*TypeDescriptor)
}

// FieldsForView returns the ordered field names of the named view.
func (d *TypeDescriptor) FieldsForView(view string) ([]string, error) {
	if view == "" {
		view = DefaultView
	}
	if fields, ok := d.Views[view]; ok {
		return fields, nil
	}
	if view == AllFieldsView || (view == DefaultView && len(d.Views) == 0) {
		return d.FieldNames(), nil
	}
	return nil, fmt.Errorf("%w: %s has no view %q", ErrUnknownView, d.Name, view)
}

// Register adds a type to the default registry.
func Register(desc TypeDescriptor) {
	defaultRegistry.Register(desc)
}

// Get returns a type from the default registry.
func Get(name string) (*TypeDescriptor, bool) {
	return defaultRegistry.Get(name)
}

// All returns every type in the default registry.
func All() []*TypeDescriptor {
	return defaultRegistry.All()
}
