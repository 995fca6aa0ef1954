package query

import "fmt"

// Scopes holds the default and named scopes of a schema, keyed by
// record-type name. Like the relation graph, it is read-mostly state:
// registration happens during setup, lookups afterwards.
type Scopes struct {
	defaults map[string]*Descriptor
	named    map[string]map[string]*Descriptor
}

// NewScopes returns an empty scope set.
func NewScopes() *Scopes {
	return &Scopes{
		defaults: make(map[string]*Descriptor),
		named:    make(map[string]map[string]*Descriptor),
	}
}

// SetDefault registers the default scope of a record type. The default
// scope is merged under every query against the type unless the query is
// tagged Unscoped.
func (s *Scopes) SetDefault(typeName string, d *Descriptor) {
	s.defaults[typeName] = d
}

// Default returns the default scope of a record type, possibly nil.
func (s *Scopes) Default(typeName string) *Descriptor {
	return s.defaults[typeName]
}

// Register adds a named scope to a record type.
func (s *Scopes) Register(typeName, name string, d *Descriptor) error {
	if name == "" {
		return fmt.Errorf("query: scope on %s must have a name", typeName)
	}
	m := s.named[typeName]
	if m == nil {
		m = make(map[string]*Descriptor)
		s.named[typeName] = m
	}
	if _, ok := m[name]; ok {
		return fmt.Errorf("query: scope %s.%s registered twice", typeName, name)
	}
	m[name] = d
	return nil
}

// Resolve returns the named scope of a record type.
func (s *Scopes) Resolve(typeName, name string) (*Descriptor, error) {
	d, ok := s.named[typeName][name]
	if !ok {
		return nil, fmt.Errorf("query: unknown scope %s.%s", typeName, name)
	}
	return d, nil
}

// Apply composes the effective descriptor for a query against typeName:
// the default scope (unless d is unscoped), then the named scopes in the
// given order, then d itself. Merge order matters: later descriptors
// override limit/offset and projection.
func (s *Scopes) Apply(typeName string, d *Descriptor, names ...string) (*Descriptor, error) {
	var acc *Descriptor
	if !d.IsUnscoped() {
		acc = s.Default(typeName)
	}
	for _, name := range names {
		sc, err := s.Resolve(typeName, name)
		if err != nil {
			return nil, err
		}
		acc = Merge(acc, sc)
	}
	return Merge(acc, d), nil
}
