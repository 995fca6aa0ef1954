// Package field provides fluent builders for declaring record-type
// attributes:
//
//	field.String("email").Unique()
//	field.Int64("id").PrimaryKey().AutoIncrement()
//	field.Time("publishedAt").Nillable().Optional()
//	field.Enum("status").Values("draft", "published")
//
// Attribute names are camelCase; the storage column defaults to the
// underscored form and can be overridden with Column.
package field
