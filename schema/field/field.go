package field

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// A Type represents an attribute's semantic type. The set is closed: the
// planner and codec switch over it exhaustively.
type Type uint8

// List of attribute types.
const (
	TypeInvalid Type = iota
	TypeBool
	TypeInt
	TypeInt64
	TypeFloat64
	TypeString
	TypeText
	TypeTime
	TypeUUID
	TypeDecimal
	TypeJSON
	TypeBytes
	TypeEnum
	endTypes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeBool:    "bool",
	TypeInt:     "int",
	TypeInt64:   "int64",
	TypeFloat64: "float64",
	TypeString:  "string",
	TypeText:    "text",
	TypeTime:    "time",
	TypeUUID:    "uuid",
	TypeDecimal: "decimal",
	TypeJSON:    "json",
	TypeBytes:   "bytes",
	TypeEnum:    "enum",
}

// String returns the string representation of the type.
func (t Type) String() string {
	if t < endTypes {
		return typeNames[t]
	}
	return typeNames[TypeInvalid]
}

// Valid reports if the given type is a valid attribute type.
func (t Type) Valid() bool { return t > TypeInvalid && t < endTypes }

// Numeric reports if the given type is a numeric type.
func (t Type) Numeric() bool {
	return t == TypeInt || t == TypeInt64 || t == TypeFloat64 || t == TypeDecimal
}

// A Descriptor for attribute configuration, produced by the fluent builders
// below and consumed by the schema package when a record type is defined.
type Descriptor struct {
	Name          string     // attribute name
	Type          Type       // semantic type
	Column        string     // storage column name; defaults to the attribute name
	Nullable      bool       // nullable in storage
	Optional      bool       // not required on create
	Unique        bool       // single-attribute unique constraint
	UniqueGroup   string     // named multi-attribute unique constraint group
	PrimaryKey    bool       // part of the primary key
	AutoIncrement bool       // storage-assigned sequence value
	Immutable     bool       // cannot be updated after create
	Default       any        // literal default value
	DefaultFunc   func() any // function default, evaluated per record
	UpdateDefault func() any // function default applied on update
	Values        []string   // enum values
	Comment       string
}

// String returns a string builder for an attribute with the given name.
func String(name string) *StringBuilder {
	return &StringBuilder{desc: &Descriptor{Name: name, Type: TypeString}}
}

// Text returns a text builder for an attribute with the given name. Text
// attributes behave like strings but map to unbounded storage columns.
func Text(name string) *StringBuilder {
	return &StringBuilder{desc: &Descriptor{Name: name, Type: TypeText}}
}

// Int returns an int builder for an attribute with the given name.
func Int(name string) *IntBuilder {
	return &IntBuilder{desc: &Descriptor{Name: name, Type: TypeInt}}
}

// Int64 returns an int64 builder for an attribute with the given name.
func Int64(name string) *IntBuilder {
	return &IntBuilder{desc: &Descriptor{Name: name, Type: TypeInt64}}
}

// Float64 returns a float builder for an attribute with the given name.
func Float64(name string) *FloatBuilder {
	return &FloatBuilder{desc: &Descriptor{Name: name, Type: TypeFloat64}}
}

// Bool returns a bool builder for an attribute with the given name.
func Bool(name string) *BoolBuilder {
	return &BoolBuilder{desc: &Descriptor{Name: name, Type: TypeBool}}
}

// Time returns a time builder for an attribute with the given name.
func Time(name string) *TimeBuilder {
	return &TimeBuilder{desc: &Descriptor{Name: name, Type: TypeTime}}
}

// UUID returns a uuid builder for an attribute with the given name.
func UUID(name string) *UUIDBuilder {
	return &UUIDBuilder{desc: &Descriptor{Name: name, Type: TypeUUID}}
}

// Decimal returns a decimal builder for an attribute with the given name.
func Decimal(name string) *DecimalBuilder {
	return &DecimalBuilder{desc: &Descriptor{Name: name, Type: TypeDecimal}}
}

// JSON returns a json builder for an attribute with the given name.
func JSON(name string) *JSONBuilder {
	return &JSONBuilder{desc: &Descriptor{Name: name, Type: TypeJSON}}
}

// Bytes returns a bytes builder for an attribute with the given name.
func Bytes(name string) *BytesBuilder {
	return &BytesBuilder{desc: &Descriptor{Name: name, Type: TypeBytes}}
}

// Enum returns an enum builder for an attribute with the given name.
func Enum(name string) *EnumBuilder {
	return &EnumBuilder{desc: &Descriptor{Name: name, Type: TypeEnum}}
}

// StringBuilder is the builder for string attributes.
type StringBuilder struct{ desc *Descriptor }

// Nillable makes the attribute nullable in storage.
func (b *StringBuilder) Nillable() *StringBuilder { b.desc.Nullable = true; return b }

// Optional marks the attribute as not required on create.
func (b *StringBuilder) Optional() *StringBuilder { b.desc.Optional = true; return b }

// Unique adds a unique constraint on the attribute.
func (b *StringBuilder) Unique() *StringBuilder { b.desc.Unique = true; return b }

// UniqueGroup puts the attribute in a named multi-attribute unique group.
func (b *StringBuilder) UniqueGroup(name string) *StringBuilder {
	b.desc.UniqueGroup = name
	return b
}

// PrimaryKey marks the attribute as (part of) the primary key.
func (b *StringBuilder) PrimaryKey() *StringBuilder { b.desc.PrimaryKey = true; return b }

// Immutable prevents the attribute from being updated.
func (b *StringBuilder) Immutable() *StringBuilder { b.desc.Immutable = true; return b }

// Default sets the default value of the attribute.
func (b *StringBuilder) Default(s string) *StringBuilder { b.desc.Default = s; return b }

// DefaultFunc sets a function default, evaluated per created record.
func (b *StringBuilder) DefaultFunc(fn func() string) *StringBuilder {
	b.desc.DefaultFunc = func() any { return fn() }
	return b
}

// Column sets the storage column name.
func (b *StringBuilder) Column(name string) *StringBuilder { b.desc.Column = name; return b }

// Comment sets the attribute comment.
func (b *StringBuilder) Comment(c string) *StringBuilder { b.desc.Comment = c; return b }

// Descriptor implements the schema.AttributeBuilder interface.
func (b *StringBuilder) Descriptor() *Descriptor { return b.desc }

// IntBuilder is the builder for integer attributes.
type IntBuilder struct{ desc *Descriptor }

// Nillable makes the attribute nullable in storage.
func (b *IntBuilder) Nillable() *IntBuilder { b.desc.Nullable = true; return b }

// Optional marks the attribute as not required on create.
func (b *IntBuilder) Optional() *IntBuilder { b.desc.Optional = true; return b }

// Unique adds a unique constraint on the attribute.
func (b *IntBuilder) Unique() *IntBuilder { b.desc.Unique = true; return b }

// UniqueGroup puts the attribute in a named multi-attribute unique group.
func (b *IntBuilder) UniqueGroup(name string) *IntBuilder {
	b.desc.UniqueGroup = name
	return b
}

// PrimaryKey marks the attribute as (part of) the primary key.
func (b *IntBuilder) PrimaryKey() *IntBuilder { b.desc.PrimaryKey = true; return b }

// AutoIncrement lets storage assign sequence values for the attribute.
func (b *IntBuilder) AutoIncrement() *IntBuilder { b.desc.AutoIncrement = true; return b }

// Immutable prevents the attribute from being updated.
func (b *IntBuilder) Immutable() *IntBuilder { b.desc.Immutable = true; return b }

// Default sets the default value of the attribute.
func (b *IntBuilder) Default(v int64) *IntBuilder { b.desc.Default = v; return b }

// Column sets the storage column name.
func (b *IntBuilder) Column(name string) *IntBuilder { b.desc.Column = name; return b }

// Comment sets the attribute comment.
func (b *IntBuilder) Comment(c string) *IntBuilder { b.desc.Comment = c; return b }

// Descriptor implements the schema.AttributeBuilder interface.
func (b *IntBuilder) Descriptor() *Descriptor { return b.desc }

// FloatBuilder is the builder for float attributes.
type FloatBuilder struct{ desc *Descriptor }

// Nillable makes the attribute nullable in storage.
func (b *FloatBuilder) Nillable() *FloatBuilder { b.desc.Nullable = true; return b }

// Optional marks the attribute as not required on create.
func (b *FloatBuilder) Optional() *FloatBuilder { b.desc.Optional = true; return b }

// Default sets the default value of the attribute.
func (b *FloatBuilder) Default(v float64) *FloatBuilder { b.desc.Default = v; return b }

// Column sets the storage column name.
func (b *FloatBuilder) Column(name string) *FloatBuilder { b.desc.Column = name; return b }

// Descriptor implements the schema.AttributeBuilder interface.
func (b *FloatBuilder) Descriptor() *Descriptor { return b.desc }

// BoolBuilder is the builder for bool attributes.
type BoolBuilder struct{ desc *Descriptor }

// Nillable makes the attribute nullable in storage.
func (b *BoolBuilder) Nillable() *BoolBuilder { b.desc.Nullable = true; return b }

// Optional marks the attribute as not required on create.
func (b *BoolBuilder) Optional() *BoolBuilder { b.desc.Optional = true; return b }

// Default sets the default value of the attribute.
func (b *BoolBuilder) Default(v bool) *BoolBuilder { b.desc.Default = v; return b }

// Column sets the storage column name.
func (b *BoolBuilder) Column(name string) *BoolBuilder { b.desc.Column = name; return b }

// Descriptor implements the schema.AttributeBuilder interface.
func (b *BoolBuilder) Descriptor() *Descriptor { return b.desc }

// TimeBuilder is the builder for time attributes.
type TimeBuilder struct{ desc *Descriptor }

// Nillable makes the attribute nullable in storage.
func (b *TimeBuilder) Nillable() *TimeBuilder { b.desc.Nullable = true; return b }

// Optional marks the attribute as not required on create.
func (b *TimeBuilder) Optional() *TimeBuilder { b.desc.Optional = true; return b }

// Immutable prevents the attribute from being updated.
func (b *TimeBuilder) Immutable() *TimeBuilder { b.desc.Immutable = true; return b }

// Default sets a function default, evaluated per created record.
//
//	field.Time("created_at").Default(time.Now)
func (b *TimeBuilder) Default(fn func() time.Time) *TimeBuilder {
	b.desc.DefaultFunc = func() any { return fn() }
	return b
}

// UpdateDefault sets a function default applied on every update.
func (b *TimeBuilder) UpdateDefault(fn func() time.Time) *TimeBuilder {
	b.desc.UpdateDefault = func() any { return fn() }
	return b
}

// Column sets the storage column name.
func (b *TimeBuilder) Column(name string) *TimeBuilder { b.desc.Column = name; return b }

// Descriptor implements the schema.AttributeBuilder interface.
func (b *TimeBuilder) Descriptor() *Descriptor { return b.desc }

// UUIDBuilder is the builder for uuid attributes.
type UUIDBuilder struct{ desc *Descriptor }

// Nillable makes the attribute nullable in storage.
func (b *UUIDBuilder) Nillable() *UUIDBuilder { b.desc.Nullable = true; return b }

// Optional marks the attribute as not required on create.
func (b *UUIDBuilder) Optional() *UUIDBuilder { b.desc.Optional = true; return b }

// Unique adds a unique constraint on the attribute.
func (b *UUIDBuilder) Unique() *UUIDBuilder { b.desc.Unique = true; return b }

// PrimaryKey marks the attribute as (part of) the primary key.
func (b *UUIDBuilder) PrimaryKey() *UUIDBuilder { b.desc.PrimaryKey = true; return b }

// Default sets a function default, evaluated per created record.
//
//	field.UUID("id").Default(uuid.New).PrimaryKey()
func (b *UUIDBuilder) Default(fn func() uuid.UUID) *UUIDBuilder {
	b.desc.DefaultFunc = func() any { return fn() }
	return b
}

// Column sets the storage column name.
func (b *UUIDBuilder) Column(name string) *UUIDBuilder { b.desc.Column = name; return b }

// Descriptor implements the schema.AttributeBuilder interface.
func (b *UUIDBuilder) Descriptor() *Descriptor { return b.desc }

// DecimalBuilder is the builder for decimal attributes.
type DecimalBuilder struct{ desc *Descriptor }

// Nillable makes the attribute nullable in storage.
func (b *DecimalBuilder) Nillable() *DecimalBuilder { b.desc.Nullable = true; return b }

// Optional marks the attribute as not required on create.
func (b *DecimalBuilder) Optional() *DecimalBuilder { b.desc.Optional = true; return b }

// Default sets the default value of the attribute.
func (b *DecimalBuilder) Default(v decimal.Decimal) *DecimalBuilder { b.desc.Default = v; return b }

// Column sets the storage column name.
func (b *DecimalBuilder) Column(name string) *DecimalBuilder { b.desc.Column = name; return b }

// Descriptor implements the schema.AttributeBuilder interface.
func (b *DecimalBuilder) Descriptor() *Descriptor { return b.desc }

// JSONBuilder is the builder for json attributes.
type JSONBuilder struct{ desc *Descriptor }

// Nillable makes the attribute nullable in storage.
func (b *JSONBuilder) Nillable() *JSONBuilder { b.desc.Nullable = true; return b }

// Optional marks the attribute as not required on create.
func (b *JSONBuilder) Optional() *JSONBuilder { b.desc.Optional = true; return b }

// Default sets the default value of the attribute.
func (b *JSONBuilder) Default(v any) *JSONBuilder { b.desc.Default = v; return b }

// Column sets the storage column name.
func (b *JSONBuilder) Column(name string) *JSONBuilder { b.desc.Column = name; return b }

// Descriptor implements the schema.AttributeBuilder interface.
func (b *JSONBuilder) Descriptor() *Descriptor { return b.desc }

// BytesBuilder is the builder for bytes attributes.
type BytesBuilder struct{ desc *Descriptor }

// Nillable makes the attribute nullable in storage.
func (b *BytesBuilder) Nillable() *BytesBuilder { b.desc.Nullable = true; return b }

// Optional marks the attribute as not required on create.
func (b *BytesBuilder) Optional() *BytesBuilder { b.desc.Optional = true; return b }

// Column sets the storage column name.
func (b *BytesBuilder) Column(name string) *BytesBuilder { b.desc.Column = name; return b }

// Descriptor implements the schema.AttributeBuilder interface.
func (b *BytesBuilder) Descriptor() *Descriptor { return b.desc }

// EnumBuilder is the builder for enum attributes.
type EnumBuilder struct{ desc *Descriptor }

// Values sets the allowed values of the enum.
func (b *EnumBuilder) Values(vs ...string) *EnumBuilder { b.desc.Values = vs; return b }

// Nillable makes the attribute nullable in storage.
func (b *EnumBuilder) Nillable() *EnumBuilder { b.desc.Nullable = true; return b }

// Optional marks the attribute as not required on create.
func (b *EnumBuilder) Optional() *EnumBuilder { b.desc.Optional = true; return b }

// Default sets the default value of the attribute.
func (b *EnumBuilder) Default(v string) *EnumBuilder { b.desc.Default = v; return b }

// Column sets the storage column name.
func (b *EnumBuilder) Column(name string) *EnumBuilder { b.desc.Column = name; return b }

// Descriptor implements the schema.AttributeBuilder interface.
func (b *EnumBuilder) Descriptor() *Descriptor { return b.desc }
