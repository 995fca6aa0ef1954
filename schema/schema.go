// Package schema provides the record-type definition surface of loom: named,
// ordered attribute schemas registered in an explicit Registry owned by the
// caller. Nothing here is process-global; independent registries (e.g. in
// parallel tests) do not observe each other.
package schema

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-openapi/inflect"

	"github.com/syssam/loom/schema/field"
)

// ErrFrozen is returned when mutating a record type after its first use in
// an association or query.
var ErrFrozen = errors.New("schema: record type is frozen")

// AttributeBuilder is the interface implemented by the fluent builders in
// the field subpackage.
type AttributeBuilder interface {
	Descriptor() *field.Descriptor
}

// Attribute describes a single attribute of a record type.
type Attribute struct {
	Name          string
	Type          field.Type
	Column        string // storage column name
	Nullable      bool
	Optional      bool
	Unique        bool
	UniqueGroup   string
	PrimaryKey    bool
	AutoIncrement bool
	Immutable     bool
	Default       any
	DefaultFunc   func() any
	UpdateDefault func() any
	Values        []string // enum values
}

// DefaultValue evaluates the attribute's default, preferring the function
// default when both are present. The second return reports whether the
// attribute has any default at all.
func (a *Attribute) DefaultValue() (any, bool) {
	if a.DefaultFunc != nil {
		return a.DefaultFunc(), true
	}
	if a.Default != nil {
		return a.Default, true
	}
	return nil, false
}

// A RecordType is a named, ordered attribute schema. It is mutable only
// until its first use in an association or query; after that, the type is
// frozen and attribute removal fails with ErrFrozen.
type RecordType struct {
	name        string
	table       string
	attrs       []*Attribute
	index       map[string]int
	paranoid    bool
	deletedAttr string
	frozen      atomic.Bool
}

// Option configures a record type at definition time.
type Option func(*RecordType) error

// Table overrides the storage table name. The default is the underscored
// plural of the type name (Author -> authors, OrderItem -> order_items).
func Table(name string) Option {
	return func(rt *RecordType) error {
		rt.table = name
		return nil
	}
}

// Attributes appends attribute definitions to the record type.
func Attributes(builders ...AttributeBuilder) Option {
	return func(rt *RecordType) error {
		for _, b := range builders {
			if _, err := rt.add(b.Descriptor()); err != nil {
				return err
			}
		}
		return nil
	}
}

// Paranoid enables soft deletion for the record type: a nullable deleted_at
// attribute is added, destroy operations set it instead of deleting rows,
// and the default scope filters records where it is set.
func Paranoid() Option {
	return func(rt *RecordType) error {
		rt.paranoid = true
		rt.deletedAttr = "deletedAt"
		return nil
	}
}

// Name returns the record-type name.
func (rt *RecordType) Name() string { return rt.name }

// Table returns the storage table name.
func (rt *RecordType) Table() string { return rt.table }

// Attributes returns the attributes in declaration order.
func (rt *RecordType) Attributes() []*Attribute { return rt.attrs }

// Attribute returns the attribute with the given name.
func (rt *RecordType) Attribute(name string) (*Attribute, bool) {
	i, ok := rt.index[name]
	if !ok {
		return nil, false
	}
	return rt.attrs[i], true
}

// PrimaryKey returns the primary-key attributes in declaration order.
func (rt *RecordType) PrimaryKey() []*Attribute {
	var pk []*Attribute
	for _, a := range rt.attrs {
		if a.PrimaryKey {
			pk = append(pk, a)
		}
	}
	return pk
}

// PKName returns the name of the first primary-key attribute.
func (rt *RecordType) PKName() string {
	pk := rt.PrimaryKey()
	if len(pk) == 0 {
		return ""
	}
	return pk[0].Name
}

// Paranoid reports whether the record type uses soft deletion.
func (rt *RecordType) Paranoid() bool { return rt.paranoid }

// DeletedAttribute returns the soft-delete attribute name, or "".
func (rt *RecordType) DeletedAttribute() string { return rt.deletedAttr }

// Freeze marks the record type as used. It is idempotent and safe to call
// from concurrent readers after the setup phase.
func (rt *RecordType) Freeze() { rt.frozen.Store(true) }

// Frozen reports whether the record type has been used.
func (rt *RecordType) Frozen() bool { return rt.frozen.Load() }

// AddAttribute appends an attribute to the record type. It fails with
// ErrFrozen once the type has been used, and with a duplicate error when an
// attribute with the same name exists.
func (rt *RecordType) AddAttribute(b AttributeBuilder) (*Attribute, error) {
	if rt.Frozen() {
		return nil, fmt.Errorf("schema: adding attribute to %s: %w", rt.name, ErrFrozen)
	}
	return rt.add(b.Descriptor())
}

// RemoveAttribute removes an attribute before first use.
func (rt *RecordType) RemoveAttribute(name string) error {
	if rt.Frozen() {
		return fmt.Errorf("schema: removing attribute %s.%s: %w", rt.name, name, ErrFrozen)
	}
	i, ok := rt.index[name]
	if !ok {
		return fmt.Errorf("schema: attribute %s.%s does not exist", rt.name, name)
	}
	rt.attrs = append(rt.attrs[:i], rt.attrs[i+1:]...)
	delete(rt.index, name)
	for j := i; j < len(rt.attrs); j++ {
		rt.index[rt.attrs[j].Name] = j
	}
	return nil
}

func (rt *RecordType) add(d *field.Descriptor) (*Attribute, error) {
	if d.Name == "" {
		return nil, fmt.Errorf("schema: %s has an attribute without a name", rt.name)
	}
	if !d.Type.Valid() {
		return nil, fmt.Errorf("schema: invalid type for attribute %s.%s", rt.name, d.Name)
	}
	if _, ok := rt.index[d.Name]; ok {
		return nil, fmt.Errorf("schema: attribute %s.%s defined twice", rt.name, d.Name)
	}
	column := d.Column
	if column == "" {
		column = inflect.Underscore(d.Name)
	}
	a := &Attribute{
		Name:          d.Name,
		Type:          d.Type,
		Column:        column,
		Nullable:      d.Nullable,
		Optional:      d.Optional,
		Unique:        d.Unique,
		UniqueGroup:   d.UniqueGroup,
		PrimaryKey:    d.PrimaryKey,
		AutoIncrement: d.AutoIncrement,
		Immutable:     d.Immutable,
		Default:       d.Default,
		DefaultFunc:   d.DefaultFunc,
		UpdateDefault: d.UpdateDefault,
		Values:        d.Values,
	}
	rt.index[a.Name] = len(rt.attrs)
	rt.attrs = append(rt.attrs, a)
	return a, nil
}

// Registry holds the record types of one schema. It is owned by the caller
// and passed explicitly into graph, query and hook operations.
type Registry struct {
	types []*RecordType
	byKey map[string]*RecordType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]*RecordType)}
}

// Define registers a new record type. If no primary key is declared, an
// auto-increment int64 "id" attribute is synthesized, matching the common
// convention for storage-assigned keys.
func (r *Registry) Define(name string, opts ...Option) (*RecordType, error) {
	if name == "" {
		return nil, errors.New("schema: record type must have a name")
	}
	if _, ok := r.byKey[name]; ok {
		return nil, fmt.Errorf("schema: record type %s defined twice", name)
	}
	rt := &RecordType{
		name:  name,
		table: inflect.Underscore(inflect.Pluralize(name)),
		index: make(map[string]int),
	}
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, err
		}
	}
	if len(rt.PrimaryKey()) == 0 {
		d := field.Int64("id").PrimaryKey().AutoIncrement().Descriptor()
		// Synthesized keys go first so declaration order matches convention.
		attrs := rt.attrs
		rt.attrs = nil
		rt.index = make(map[string]int)
		if _, err := rt.add(d); err != nil {
			return nil, err
		}
		for _, a := range attrs {
			rt.index[a.Name] = len(rt.attrs)
			rt.attrs = append(rt.attrs, a)
		}
	}
	if rt.paranoid {
		if _, ok := rt.Attribute(rt.deletedAttr); !ok {
			if _, err := rt.add(field.Time(rt.deletedAttr).Nillable().Optional().Descriptor()); err != nil {
				return nil, err
			}
		}
	}
	r.types = append(r.types, rt)
	r.byKey[name] = rt
	return rt, nil
}

// Lookup returns the record type with the given name.
func (r *Registry) Lookup(name string) (*RecordType, bool) {
	rt, ok := r.byKey[name]
	return rt, ok
}

// Types returns all record types in definition order.
func (r *Registry) Types() []*RecordType { return r.types }

// Remove tears down a record type. Intended for test teardown only; the
// registry takes no care of associations still referencing the type.
func (r *Registry) Remove(name string) {
	rt, ok := r.byKey[name]
	if !ok {
		return
	}
	delete(r.byKey, name)
	for i, t := range r.types {
		if t == rt {
			r.types = append(r.types[:i], r.types[i+1:]...)
			break
		}
	}
}
