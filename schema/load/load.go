// Package load builds a registry and relation graph from a YAML schema
// document, so deployments can describe record types and associations in
// configuration instead of code. It also provides a file watcher that
// rebuilds the graph when the document changes.
package load

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syssam/loom/graph"
	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/field"
)

// Document is the YAML schema document shape.
type Document struct {
	Types        []TypeDef  `yaml:"types"`
	Associations []AssocDef `yaml:"associations"`
}

// TypeDef declares one record type.
type TypeDef struct {
	Name       string    `yaml:"name"`
	Table      string    `yaml:"table"`
	Paranoid   bool      `yaml:"paranoid"`
	Attributes []AttrDef `yaml:"attributes"`
}

// AttrDef declares one attribute.
type AttrDef struct {
	Name          string   `yaml:"name"`
	Type          string   `yaml:"type"`
	Column        string   `yaml:"column"`
	Nullable      bool     `yaml:"nullable"`
	Optional      bool     `yaml:"optional"`
	Unique        bool     `yaml:"unique"`
	UniqueGroup   string   `yaml:"uniqueGroup"`
	PrimaryKey    bool     `yaml:"primaryKey"`
	AutoIncrement bool     `yaml:"autoIncrement"`
	Immutable     bool     `yaml:"immutable"`
	Default       any      `yaml:"default"`
	Values        []string `yaml:"values"`
}

// AssocDef declares one association.
type AssocDef struct {
	Kind            string   `yaml:"kind"`
	Source          string   `yaml:"source"`
	Target          string   `yaml:"target"`
	Alias           string   `yaml:"alias"`
	ForeignKey      string   `yaml:"foreignKey"`
	TargetKey       string   `yaml:"targetKey"`
	Through         string   `yaml:"through"`
	ThroughKeys     []string `yaml:"throughKeys"`
	AllowDuplicates bool     `yaml:"allowDuplicates"`
}

var attrTypes = map[string]field.Type{
	"bool":    field.TypeBool,
	"int":     field.TypeInt,
	"int64":   field.TypeInt64,
	"float":   field.TypeFloat64,
	"string":  field.TypeString,
	"text":    field.TypeText,
	"time":    field.TypeTime,
	"uuid":    field.TypeUUID,
	"decimal": field.TypeDecimal,
	"json":    field.TypeJSON,
	"bytes":   field.TypeBytes,
	"enum":    field.TypeEnum,
}

// File reads and builds the schema document at path. The returned graph is
// sealed: a loaded schema is complete by definition.
func File(path string) (*graph.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load: reading %s: %w", path, err)
	}
	return Bytes(data)
}

// Bytes builds the schema document from raw YAML.
func Bytes(data []byte) (*graph.Graph, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("load: parsing schema: %w", err)
	}
	return Build(&doc)
}

// Build materializes the document into a sealed relation graph.
func Build(doc *Document) (*graph.Graph, error) {
	reg := schema.NewRegistry()
	for _, td := range doc.Types {
		opts := []schema.Option{}
		if td.Table != "" {
			opts = append(opts, schema.Table(td.Table))
		}
		if td.Paranoid {
			opts = append(opts, schema.Paranoid())
		}
		builders := make([]schema.AttributeBuilder, 0, len(td.Attributes))
		for _, ad := range td.Attributes {
			b, err := attrBuilder(td.Name, ad)
			if err != nil {
				return nil, err
			}
			builders = append(builders, b)
		}
		if len(builders) > 0 {
			opts = append(opts, schema.Attributes(builders...))
		}
		if _, err := reg.Define(td.Name, opts...); err != nil {
			return nil, err
		}
	}
	g := graph.New(reg)
	for _, ad := range doc.Associations {
		b, err := assocBuilder(reg, ad)
		if err != nil {
			return nil, err
		}
		if _, err := g.Declare(b); err != nil {
			return nil, err
		}
	}
	g.Seal()
	return g, nil
}

// rawAttr adapts a hand-built descriptor to the AttributeBuilder
// interface, since YAML defaults are untyped.
type rawAttr struct {
	d *field.Descriptor
}

func (b rawAttr) Descriptor() *field.Descriptor { return b.d }

func attrBuilder(typeName string, ad AttrDef) (schema.AttributeBuilder, error) {
	if ad.Name == "" {
		return nil, fmt.Errorf("load: %s has an attribute without a name", typeName)
	}
	t, ok := attrTypes[ad.Type]
	if !ok {
		return nil, fmt.Errorf("load: %s.%s has invalid type %q", typeName, ad.Name, ad.Type)
	}
	if t == field.TypeEnum && len(ad.Values) == 0 {
		return nil, fmt.Errorf("load: %s.%s declares an enum without values", typeName, ad.Name)
	}
	return rawAttr{d: &field.Descriptor{
		Name:          ad.Name,
		Type:          t,
		Column:        ad.Column,
		Nullable:      ad.Nullable,
		Optional:      ad.Optional,
		Unique:        ad.Unique,
		UniqueGroup:   ad.UniqueGroup,
		PrimaryKey:    ad.PrimaryKey,
		AutoIncrement: ad.AutoIncrement,
		Immutable:     ad.Immutable,
		Default:       ad.Default,
		Values:        ad.Values,
	}}, nil
}

func assocBuilder(reg *schema.Registry, ad AssocDef) (*graph.Builder, error) {
	source, ok := reg.Lookup(ad.Source)
	if !ok {
		return nil, fmt.Errorf("load: association references unknown source type %q", ad.Source)
	}
	target, ok := reg.Lookup(ad.Target)
	if !ok {
		return nil, fmt.Errorf("load: association references unknown target type %q", ad.Target)
	}
	var b *graph.Builder
	switch ad.Kind {
	case "belongsTo":
		b = graph.NewBelongsTo(source, target)
	case "hasOne":
		b = graph.NewHasOne(source, target)
	case "hasMany":
		b = graph.NewHasMany(source, target)
	case "belongsToMany":
		b = graph.NewBelongsToMany(source, target)
	default:
		return nil, fmt.Errorf("load: invalid association kind %q", ad.Kind)
	}
	if ad.Alias != "" {
		b.Alias(ad.Alias)
	}
	if ad.ForeignKey != "" {
		b.ForeignKey(ad.ForeignKey)
	}
	if ad.TargetKey != "" {
		b.TargetKey(ad.TargetKey)
	}
	if ad.Through != "" {
		th, ok := reg.Lookup(ad.Through)
		if !ok {
			return nil, fmt.Errorf("load: association references unknown through type %q", ad.Through)
		}
		b.Through(th)
	}
	if len(ad.ThroughKeys) > 0 {
		if len(ad.ThroughKeys) != 2 {
			return nil, fmt.Errorf("load: throughKeys expects [sourceFK, targetFK], got %d entries", len(ad.ThroughKeys))
		}
		b.ThroughKeys(ad.ThroughKeys[0], ad.ThroughKeys[1])
	}
	if ad.AllowDuplicates {
		b.AllowDuplicates()
	}
	return b, nil
}
