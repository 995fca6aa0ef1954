package graph

import (
	"github.com/go-openapi/inflect"

	"github.com/syssam/loom/query"
	"github.com/syssam/loom/schema"
)

// A Kind is the cardinality and foreign-key placement of an association.
type Kind uint8

// Association kinds.
const (
	// BelongsTo places the foreign key on the source, referencing the
	// target's key. A source row points at one target row.
	BelongsTo Kind = iota + 1
	// HasOne places the foreign key on the target, referencing the source's
	// key, with a uniqueness constraint on the foreign key.
	HasOne
	// HasMany places the foreign key on the target, referencing the
	// source's key.
	HasMany
	// BelongsToMany relates source and target through a junction record
	// type holding one foreign key per side.
	BelongsToMany
)

var kindNames = [...]string{
	BelongsTo:     "belongsTo",
	HasOne:        "hasOne",
	HasMany:       "hasMany",
	BelongsToMany: "belongsToMany",
}

// String returns the kind's name.
func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "invalid"
}

// ToMany reports if the association resolves to multiple targets.
func (k Kind) ToMany() bool { return k == HasMany || k == BelongsToMany }

// An Association is a directed, immutable edge between two record types.
// Associations are created by Graph.Declare and never mutated afterwards.
type Association struct {
	kind   Kind
	source *schema.RecordType
	target *schema.RecordType
	alias  string

	// foreignKey is the resolved foreign-key attribute: on source for
	// BelongsTo, on target for HasOne/HasMany, unused for BelongsToMany.
	foreignKey string
	// refKey is the attribute the foreign key references: on target for
	// BelongsTo, on source for HasOne/HasMany.
	refKey string

	through      *schema.RecordType
	synthesized  bool   // through type created by the graph
	sourceFK     string // through attribute referencing source
	targetFK     string // through attribute referencing target
	pairUnique   bool
	defaultScope *query.Descriptor
}

// Kind returns the association kind.
func (a *Association) Kind() Kind { return a.kind }

// Source returns the record type the association was declared on.
func (a *Association) Source() *schema.RecordType { return a.source }

// Target returns the record type the association points at.
func (a *Association) Target() *schema.RecordType { return a.target }

// Alias returns the association alias, unique among the source's outgoing
// associations.
func (a *Association) Alias() string { return a.alias }

// ForeignKey returns the resolved foreign-key attribute name. For
// BelongsToMany it is empty; use SourceForeignKey and TargetForeignKey.
func (a *Association) ForeignKey() string { return a.foreignKey }

// RefKey returns the attribute the foreign key references: on the target
// for BelongsTo, on the source for HasOne/HasMany.
func (a *Association) RefKey() string { return a.refKey }

// Owner returns the record type holding the foreign key.
func (a *Association) Owner() *schema.RecordType {
	if a.kind == BelongsTo {
		return a.source
	}
	return a.target
}

// Through returns the junction record type of a BelongsToMany association,
// or nil.
func (a *Association) Through() *schema.RecordType { return a.through }

// ThroughSynthesized reports whether the junction type was synthesized by
// the graph and is exclusively owned by this association.
func (a *Association) ThroughSynthesized() bool { return a.synthesized }

// SourceForeignKey returns the through attribute referencing the source.
func (a *Association) SourceForeignKey() string { return a.sourceFK }

// TargetForeignKey returns the through attribute referencing the target.
func (a *Association) TargetForeignKey() string { return a.targetFK }

// PairUnique reports whether the junction enforces uniqueness over the
// (source, target) pair.
func (a *Association) PairUnique() bool { return a.pairUnique }

// Scope returns the association-level default scope, merged under every
// relation-scoped query, or nil.
func (a *Association) Scope() *query.Descriptor { return a.defaultScope }

// ToMany reports if the association resolves to multiple targets.
func (a *Association) ToMany() bool { return a.kind.ToMany() }

// A Builder collects the options of one association declaration. It is
// constructed by the kind helpers below and consumed by Graph.Declare.
type Builder struct {
	a *Association
}

// NewBelongsTo declares source -> target with the foreign key on source.
// The default alias is the singular of the target's name.
func NewBelongsTo(source, target *schema.RecordType) *Builder {
	return &Builder{a: &Association{kind: BelongsTo, source: source, target: target}}
}

// NewHasOne declares source -> target with a unique foreign key on target.
// The default alias is the singular of the target's name.
func NewHasOne(source, target *schema.RecordType) *Builder {
	return &Builder{a: &Association{kind: HasOne, source: source, target: target}}
}

// NewHasMany declares source -> target with the foreign key on target.
// The default alias is the plural of the target's name.
func NewHasMany(source, target *schema.RecordType) *Builder {
	return &Builder{a: &Association{kind: HasMany, source: source, target: target}}
}

// NewBelongsToMany declares source <-> target through a junction type. The
// default alias is the plural of the target's name. If no through type is
// given, one is synthesized and owned by the association.
func NewBelongsToMany(source, target *schema.RecordType) *Builder {
	return &Builder{a: &Association{kind: BelongsToMany, source: source, target: target, pairUnique: true}}
}

// Alias overrides the default alias.
func (b *Builder) Alias(alias string) *Builder {
	b.a.alias = alias
	return b
}

// ForeignKey overrides the conventional foreign-key attribute name.
func (b *Builder) ForeignKey(name string) *Builder {
	b.a.foreignKey = name
	return b
}

// TargetKey overrides the referenced key attribute (the primary key by
// default): on the target for BelongsTo, on the source for HasOne/HasMany.
func (b *Builder) TargetKey(name string) *Builder {
	b.a.refKey = name
	return b
}

// Through sets an explicit junction record type for BelongsToMany.
func (b *Builder) Through(rt *schema.RecordType) *Builder {
	b.a.through = rt
	return b
}

// ThroughKeys overrides the conventional names of the junction's two
// foreign keys.
func (b *Builder) ThroughKeys(sourceFK, targetFK string) *Builder {
	b.a.sourceFK = sourceFK
	b.a.targetFK = targetFK
	return b
}

// AllowDuplicates disables the uniqueness constraint spanning the
// junction's (source, target) pair.
func (b *Builder) AllowDuplicates() *Builder {
	b.a.pairUnique = false
	return b
}

// Scope sets an association-level default scope merged under every
// relation-scoped query.
func (b *Builder) Scope(d *query.Descriptor) *Builder {
	b.a.defaultScope = d
	return b
}

// defaultAlias derives the alias from the target's name: singular for
// BelongsTo/HasOne, plural for HasMany/BelongsToMany.
func defaultAlias(k Kind, target *schema.RecordType) string {
	name := inflect.Singularize(target.Name())
	if k.ToMany() {
		name = inflect.Pluralize(target.Name())
	}
	return inflect.CamelizeDownFirst(name)
}

// conventionalFK derives the foreign-key attribute name referencing the
// given type's key: <singularName><KeyName>, e.g. authorId.
func conventionalFK(ref *schema.RecordType, key string) string {
	return inflect.CamelizeDownFirst(inflect.Singularize(ref.Name())) + inflect.Camelize(key)
}
