package relation

import (
	"errors"
	"fmt"
)

// NotAssociableError is returned when an operation is not defined for the
// association's kind, e.g. adding to a to-one association or creating
// through a many-to-many.
type NotAssociableError struct {
	Type  string // source record-type name
	Alias string
	Op    string
}

// Error returns the error string.
func (e *NotAssociableError) Error() string {
	return fmt.Sprintf("loom: %s on %s.%s is not supported for this association kind", e.Op, e.Type, e.Alias)
}

// IsNotAssociable returns true if the error is a NotAssociableError.
func IsNotAssociable(err error) bool {
	if err == nil {
		return false
	}
	var e *NotAssociableError
	return errors.As(err, &e)
}
