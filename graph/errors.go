package graph

import (
	"errors"
	"fmt"
)

// ErrSealed is returned when declaring associations after the graph has
// been sealed for concurrent query traffic.
var ErrSealed = errors.New("graph: sealed")

// DuplicateAliasError is returned when a (source, alias) pair is declared
// twice.
type DuplicateAliasError struct {
	Source string
	Alias  string
}

// Error returns the error string.
func (e *DuplicateAliasError) Error() string {
	return fmt.Sprintf("graph: association %s.%s already declared", e.Source, e.Alias)
}

// IsDuplicateAlias returns true if the error is a DuplicateAliasError.
func IsDuplicateAlias(err error) bool {
	if err == nil {
		return false
	}
	var e *DuplicateAliasError
	return errors.As(err, &e)
}

// InvalidThroughError is returned when a many-to-many through type does not
// expose two distinct foreign keys resolvable to the source and target.
type InvalidThroughError struct {
	Source  string
	Target  string
	Through string
	Reason  string
}

// Error returns the error string.
func (e *InvalidThroughError) Error() string {
	return fmt.Sprintf("graph: invalid through type %s for %s<->%s: %s",
		e.Through, e.Source, e.Target, e.Reason)
}

// IsInvalidThrough returns true if the error is an InvalidThroughError.
func IsInvalidThrough(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidThroughError
	return errors.As(err, &e)
}

// SealedError is returned when mutating a sealed graph. It matches
// ErrSealed under errors.Is.
type SealedError struct {
	Source string
	Alias  string
}

// Error returns the error string.
func (e *SealedError) Error() string {
	return fmt.Sprintf("graph: declaring %s.%s: graph is sealed", e.Source, e.Alias)
}

// Is reports whether the target error matches SealedError.
func (e *SealedError) Is(err error) bool { return err == ErrSealed }

// IsSealed returns true if the error reports a sealed graph.
func IsSealed(err error) bool {
	if err == nil {
		return false
	}
	var e *SealedError
	return errors.As(err, &e) || errors.Is(err, ErrSealed)
}
