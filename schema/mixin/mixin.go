// Package mixin provides reusable attribute sets to splice into record
// types, so cross-cutting columns are declared once:
//
//	reg.Define("Post",
//		schema.Attributes(field.String("title")),
//		schema.Attributes(mixin.Timestamps()...),
//	)
package mixin

import (
	"time"

	"github.com/google/uuid"

	"github.com/syssam/loom/schema"
	"github.com/syssam/loom/schema/field"
)

// Timestamps returns the createdAt/updatedAt pair: createdAt is stamped at
// creation and immutable, updatedAt is re-stamped on every update.
func Timestamps() []schema.AttributeBuilder {
	return []schema.AttributeBuilder{
		field.Time("createdAt").Default(time.Now).Immutable(),
		field.Time("updatedAt").Default(time.Now).UpdateDefault(time.Now),
	}
}

// UUIDKey returns a uuid primary key generated at creation.
func UUIDKey() schema.AttributeBuilder {
	return field.UUID("id").Default(uuid.New).PrimaryKey()
}
