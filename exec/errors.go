package exec

import (
	"errors"
	"fmt"
)

// UnknownTypeError is returned when an operation names a record type the
// registry does not know.
type UnknownTypeError struct {
	Name string
}

// Error returns the error string.
func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("loom: unknown record type %q", e.Name)
}

// IsUnknownType returns true if the error is an UnknownTypeError.
func IsUnknownType(err error) bool {
	if err == nil {
		return false
	}
	var e *UnknownTypeError
	return errors.As(err, &e)
}

// MissingKeyError is returned when a single-record mutation is attempted
// on a record that has no primary-key value.
type MissingKeyError struct {
	Type string
	Key  string
}

// Error returns the error string.
func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("loom: %s record has no %q value", e.Type, e.Key)
}

// IsMissingKey returns true if the error is a MissingKeyError.
func IsMissingKey(err error) bool {
	if err == nil {
		return false
	}
	var e *MissingKeyError
	return errors.As(err, &e)
}
