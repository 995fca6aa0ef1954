package plan

import (
	"errors"
	"fmt"
)

// UnknownAssociationError is returned when an include names an alias that
// does not resolve to any association on the including type.
type UnknownAssociationError struct {
	Type  string
	Alias string
}

// Error returns the error string.
func (e *UnknownAssociationError) Error() string {
	return fmt.Sprintf("plan: unknown association %q on %s", e.Alias, e.Type)
}

// IsUnknownAssociation returns true if the error is an UnknownAssociationError.
func IsUnknownAssociation(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownAssociationError
	return errors.As(err, &e)
}

// AmbiguousAliasError is returned when two sibling includes would resolve to
// the same SQL-level table alias, or when an include by record-type name
// matches more than one association. It is detected before any execution.
type AmbiguousAliasError struct {
	Type  string
	Alias string
}

// Error returns the error string.
func (e *AmbiguousAliasError) Error() string {
	return fmt.Sprintf("plan: ambiguous alias %q including from %s", e.Alias, e.Type)
}

// IsAmbiguousAlias returns true if the error is an AmbiguousAliasError.
func IsAmbiguousAlias(err error) bool {
	if err == nil {
		return false
	}
	var e *AmbiguousAliasError
	return errors.As(err, &e)
}

// UnknownAttributeError is returned when a predicate, ordering or grouping
// expression references an attribute the record type does not have. The
// reference is only detected at plan time, keeping descriptor merging pure.
type UnknownAttributeError struct {
	Type      string
	Attribute string
}

// Error returns the error string.
func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("plan: unknown attribute %s.%s", e.Type, e.Attribute)
}

// IsUnknownAttribute returns true if the error is an UnknownAttributeError.
func IsUnknownAttribute(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownAttributeError
	return errors.As(err, &e)
}
