// Package graph owns the declared associations between record types: it
// resolves foreign-key placement and naming by convention, synthesizes
// junction types for many-to-many edges, and exposes O(1) alias lookup for
// the planner and the relation-scoped operations.
//
// The graph is read-mostly state. Declarations happen during a setup phase;
// once Seal is called, reads are unsynchronized and further declarations
// fail with ErrSealed.
package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/go-openapi/inflect"

	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/field"
)

// An AttributeRef names one attribute of one record type.
type AttributeRef struct {
	Type *schema.RecordType
	Name string
}

// String returns Type.Name.
func (r AttributeRef) String() string {
	return r.Type.Name() + "." + r.Name
}

// Graph holds all declared associations of one schema registry.
type Graph struct {
	reg    *schema.Registry
	out    map[string]map[string]*Association // source name -> alias -> association
	order  map[string][]*Association          // source name -> declaration order
	sealed atomic.Bool
}

// New returns an empty graph over the given registry.
func New(reg *schema.Registry) *Graph {
	return &Graph{
		reg:   reg,
		out:   make(map[string]map[string]*Association),
		order: make(map[string][]*Association),
	}
}

// Registry returns the schema registry the graph was built over.
func (g *Graph) Registry() *schema.Registry { return g.reg }

// Seal marks the end of the setup phase. After sealing, Declare fails with
// ErrSealed and lookups are safe for unsynchronized concurrent use.
func (g *Graph) Seal() { g.sealed.Store(true) }

// Sealed reports whether the graph has been sealed.
func (g *Graph) Sealed() bool { return g.sealed.Load() }

// Declare resolves and registers the association described by the builder.
// Foreign-key attributes are materialized on the owning type at declaration
// time: a pre-declared attribute is respected as-is, otherwise a nullable
// attribute of the referenced key's type is synthesized. Both endpoints
// (and the junction type, if any) are frozen by the declaration.
func (g *Graph) Declare(b *Builder) (*Association, error) {
	a := b.a
	if a.alias == "" {
		a.alias = defaultAlias(a.kind, a.target)
	}
	if g.Sealed() {
		return nil, &SealedError{Source: a.source.Name(), Alias: a.alias}
	}
	if _, ok := g.out[a.source.Name()][a.alias]; ok {
		return nil, &DuplicateAliasError{Source: a.source.Name(), Alias: a.alias}
	}
	var err error
	switch a.kind {
	case BelongsTo:
		err = g.resolveSingle(a, a.source, a.target, false)
	case HasOne:
		err = g.resolveSingle(a, a.target, a.source, true)
	case HasMany:
		err = g.resolveSingle(a, a.target, a.source, false)
	case BelongsToMany:
		err = g.resolveThrough(a)
	default:
		err = fmt.Errorf("graph: invalid association kind %d", a.kind)
	}
	if err != nil {
		return nil, err
	}
	a.source.Freeze()
	a.target.Freeze()
	if a.through != nil {
		a.through.Freeze()
	}
	if g.out[a.source.Name()] == nil {
		g.out[a.source.Name()] = make(map[string]*Association)
	}
	g.out[a.source.Name()][a.alias] = a
	g.order[a.source.Name()] = append(g.order[a.source.Name()], a)
	return a, nil
}

// resolveSingle materializes the foreign key of a BelongsTo/HasOne/HasMany
// association: the key lives on owner and references ref's key.
func (g *Graph) resolveSingle(a *Association, owner, ref *schema.RecordType, unique bool) error {
	if a.refKey == "" {
		a.refKey = ref.PKName()
	}
	refAttr, ok := ref.Attribute(a.refKey)
	if !ok {
		return fmt.Errorf("graph: %s.%s references unknown key %s.%s",
			a.source.Name(), a.alias, ref.Name(), a.refKey)
	}
	if a.foreignKey == "" {
		a.foreignKey = conventionalFK(ref, a.refKey)
	}
	if _, ok := owner.Attribute(a.foreignKey); !ok {
		if _, err := owner.AddAttribute(fkBuilder(a.foreignKey, refAttr.Type, unique)); err != nil {
			return fmt.Errorf("graph: materializing %s.%s: %w", owner.Name(), a.foreignKey, err)
		}
	}
	return nil
}

// resolveThrough resolves the junction type of a BelongsToMany association,
// synthesizing one when none was given.
func (g *Graph) resolveThrough(a *Association) error {
	srcKey, tgtKey := a.source.PKName(), a.target.PKName()
	if a.sourceFK == "" {
		a.sourceFK = conventionalFK(a.source, srcKey)
	}
	if a.targetFK == "" {
		a.targetFK = conventionalFK(a.target, tgtKey)
		if a.targetFK == a.sourceFK {
			// Self-referential junction: disambiguate the target side.
			a.targetFK = "other" + inflect.Camelize(a.targetFK)
		}
	}
	if a.sourceFK == a.targetFK {
		return &InvalidThroughError{
			Source: a.source.Name(), Target: a.target.Name(),
			Through: a.throughName(),
			Reason:  fmt.Sprintf("foreign keys must be distinct, both are %q", a.sourceFK),
		}
	}
	srcAttr, _ := a.source.Attribute(srcKey)
	tgtAttr, _ := a.target.Attribute(tgtKey)
	if a.through == nil {
		if existing, ok := g.reg.Lookup(a.throughName()); ok {
			a.through = existing
		} else {
			group := ""
			if a.pairUnique {
				group = inflect.Underscore(a.throughName()) + "_pair"
			}
			th, err := g.reg.Define(a.throughName(), schema.Attributes(
				fkGroupBuilder(a.sourceFK, srcAttr.Type, group),
				fkGroupBuilder(a.targetFK, tgtAttr.Type, group),
			))
			if err != nil {
				return err
			}
			a.through = th
			a.synthesized = true
		}
	}
	for _, fk := range []struct {
		name string
		typ  field.Type
	}{{a.sourceFK, srcAttr.Type}, {a.targetFK, tgtAttr.Type}} {
		if _, ok := a.through.Attribute(fk.name); ok {
			continue
		}
		if a.through.Frozen() {
			return &InvalidThroughError{
				Source: a.source.Name(), Target: a.target.Name(),
				Through: a.through.Name(),
				Reason:  fmt.Sprintf("missing foreign key %q", fk.name),
			}
		}
		group := ""
		if a.pairUnique {
			group = inflect.Underscore(a.through.Name()) + "_pair"
		}
		if _, err := a.through.AddAttribute(fkGroupBuilder(fk.name, fk.typ, group)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Association) throughName() string {
	if a.through != nil {
		return a.through.Name()
	}
	return a.source.Name() + a.target.Name()
}

// Resolve returns the association declared on rt under the given alias.
// The lookup is O(1).
func (g *Graph) Resolve(rt *schema.RecordType, alias string) (*Association, bool) {
	a, ok := g.out[rt.Name()][alias]
	return a, ok
}

// ResolveTarget returns the associations declared on rt whose target is the
// named record type, in declaration order. It backs include-by-type-name
// resolution in the planner.
func (g *Graph) ResolveTarget(rt *schema.RecordType, typeName string) []*Association {
	var out []*Association
	for _, a := range g.order[rt.Name()] {
		if a.target.Name() == typeName {
			out = append(out, a)
		}
	}
	return out
}

// Associations returns rt's outgoing associations in declaration order.
func (g *Graph) Associations(rt *schema.RecordType) []*Association {
	return g.order[rt.Name()]
}

// ForeignKeyFor returns the resolved foreign-key attribute of the
// association: on the source for BelongsTo, on the target for
// HasOne/HasMany, and the source-side junction key for BelongsToMany.
// Resolution happens once at declaration time, so repeated calls always
// return the same reference.
func (g *Graph) ForeignKeyFor(a *Association) AttributeRef {
	switch a.kind {
	case BelongsTo:
		return AttributeRef{Type: a.source, Name: a.foreignKey}
	case BelongsToMany:
		return AttributeRef{Type: a.through, Name: a.sourceFK}
	default:
		return AttributeRef{Type: a.target, Name: a.foreignKey}
	}
}

// Teardown removes rt's outgoing associations and any junction types
// synthesized for them. Intended for test teardown scenarios only; open
// queries against the type are not tracked.
func (g *Graph) Teardown(rt *schema.RecordType) {
	for _, a := range g.order[rt.Name()] {
		if a.synthesized {
			g.reg.Remove(a.through.Name())
		}
	}
	delete(g.out, rt.Name())
	delete(g.order, rt.Name())
}

func fkBuilder(name string, t field.Type, unique bool) schema.AttributeBuilder {
	return descriptorBuilder{d: &field.Descriptor{
		Name: name, Type: t, Nullable: true, Optional: true, Unique: unique,
	}}
}

func fkGroupBuilder(name string, t field.Type, group string) schema.AttributeBuilder {
	return descriptorBuilder{d: &field.Descriptor{
		Name: name, Type: t, UniqueGroup: group,
	}}
}

// descriptorBuilder adapts a raw descriptor to schema.AttributeBuilder for
// synthesized foreign keys.
type descriptorBuilder struct{ d *field.Descriptor }

func (b descriptorBuilder) Descriptor() *field.Descriptor { return b.d }
