// Package loom is the core of a runtime relational-mapping layer: it turns
// declared relationships between record types into a navigable relation
// graph, relation-scoped operations, and composable query descriptors that a
// planner translates into concrete fetch steps.
//
// The package itself carries only the shared value types (Record, the
// through-row side channel) and the narrow collaborator contracts consumed
// by the engine. The engine proper lives in the subpackages:
//
//   - schema, schema/field: record-type definitions and attribute builders
//   - graph: association declaration and foreign-key resolution
//   - query: the immutable query descriptor and its merge algebra
//   - plan: the eager-load planner producing deterministic fetch plans
//   - exec: plan execution, materialization, and lifecycle sequencing
//   - relation: per-association get/set/add/remove/has/count operations
//   - hook: the before/after hook registry and state machine
//   - dialect, dialect/sql: the storage driver boundary
package loom

import (
	"context"

	"github.com/syssam/loom/schema"
)

// ValueCodec converts between raw driver values and typed attribute values.
// It is consulted when materializing fetched rows into records and when
// encoding predicate operands and mutation values for the driver.
type ValueCodec interface {
	// Decode converts a raw driver value into the attribute's typed value.
	Decode(raw any, attr *schema.Attribute) (any, error)

	// Encode converts a typed value into a raw value the driver accepts.
	Encode(v any, attr *schema.Attribute) (any, error)
}

// Violation describes a single field-level validation failure.
type Violation struct {
	Attribute string
	Message   string
}

// ValidationRules evaluates record values against the rules attached to a
// record type. Rule evaluation itself is an external collaborator; the
// engine only sequences it relative to hooks and persistence.
type ValidationRules interface {
	Validate(ctx context.Context, r *Record, rt *schema.RecordType) []Violation
}

// NopValidation is a ValidationRules implementation that accepts everything.
// It is the default when no rules collaborator is configured.
type NopValidation struct{}

// Validate implements ValidationRules.
func (NopValidation) Validate(context.Context, *Record, *schema.RecordType) []Violation {
	return nil
}
