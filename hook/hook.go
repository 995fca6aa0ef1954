// Package hook provides the lifecycle hook registry and the state machine
// sequencing before/after hooks around validate, persist and associate
// phases of mutating operations.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syssam/loom"
	"github.com/syssam/loom/query"
)

// A Phase names one hook point of the lifecycle.
type Phase uint8

// Hook phases.
const (
	BeforeValidate Phase = iota + 1
	AfterValidate
	BeforeCreate
	AfterCreate
	BeforeUpdate
	AfterUpdate
	BeforeDestroy
	AfterDestroy
	BeforeBulkCreate
	AfterBulkCreate
	BeforeBulkUpdate
	AfterBulkUpdate
	BeforeBulkDestroy
	AfterBulkDestroy
	BeforeFind
	AfterFind
	endPhases
)

var phaseNames = [...]string{
	BeforeValidate:    "beforeValidate",
	AfterValidate:     "afterValidate",
	BeforeCreate:      "beforeCreate",
	AfterCreate:       "afterCreate",
	BeforeUpdate:      "beforeUpdate",
	AfterUpdate:       "afterUpdate",
	BeforeDestroy:     "beforeDestroy",
	AfterDestroy:      "afterDestroy",
	BeforeBulkCreate:  "beforeBulkCreate",
	AfterBulkCreate:   "afterBulkCreate",
	BeforeBulkUpdate:  "beforeBulkUpdate",
	AfterBulkUpdate:   "afterBulkUpdate",
	BeforeBulkDestroy: "beforeBulkDestroy",
	AfterBulkDestroy:  "afterBulkDestroy",
	BeforeFind:        "beforeFind",
	AfterFind:         "afterFind",
}

// String returns the phase name.
func (p Phase) String() string {
	if p > 0 && p < endPhases {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", p)
}

// ParsePhase returns the phase with the given name.
func ParsePhase(name string) (Phase, error) {
	for p := Phase(1); p < endPhases; p++ {
		if phaseNames[p] == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("hook: unknown phase %q", name)
}

// An Op is the logical operation a machine instance sequences.
type Op uint8

// Operations.
const (
	OpCreate Op = iota + 1
	OpUpdate
	OpDestroy
	OpRestore
	OpBulkCreate
	OpBulkUpdate
	OpBulkDestroy
	OpFind
)

var opNames = [...]string{
	OpCreate:      "create",
	OpUpdate:      "update",
	OpDestroy:     "destroy",
	OpRestore:     "restore",
	OpBulkCreate:  "bulkCreate",
	OpBulkUpdate:  "bulkUpdate",
	OpBulkDestroy: "bulkDestroy",
	OpFind:        "find",
}

// String returns the operation name.
func (o Op) String() string {
	if int(o) < len(opNames) && opNames[o] != "" {
		return opNames[o]
	}
	return "invalid"
}

// Bulk reports if the operation is a bulk operation.
func (o Op) Bulk() bool {
	return o == OpBulkCreate || o == OpBulkUpdate || o == OpBulkDestroy
}

// persistPhases returns the before/after phases wrapping the operation's
// persist step. Restore runs through the update phases: it is an update of
// the soft-delete attribute.
func persistPhases(o Op) (before, after Phase) {
	switch o {
	case OpCreate:
		return BeforeCreate, AfterCreate
	case OpUpdate, OpRestore:
		return BeforeUpdate, AfterUpdate
	case OpDestroy:
		return BeforeDestroy, AfterDestroy
	case OpBulkCreate:
		return BeforeBulkCreate, AfterBulkCreate
	case OpBulkUpdate:
		return BeforeBulkUpdate, AfterBulkUpdate
	case OpBulkDestroy:
		return BeforeBulkDestroy, AfterBulkDestroy
	default:
		return BeforeFind, AfterFind
	}
}

// An Event is the payload passed to every hook of one logical operation.
// Bulk after-hooks observing zero affected rows receive the operation's
// options, not per-row data.
type Event struct {
	Type    string // record-type name
	Op      Op
	Record  *loom.Record   // single-record operations
	Records []*loom.Record // bulk create, find results
	Values  map[string]any // update values
	// Descriptor scopes find and bulk operations. beforeFind hooks may
	// replace it to rewrite the query.
	Descriptor *query.Descriptor
	Options    map[string]any
	// Affected is set before the after-persist phase runs.
	Affected int64
}

// A Callback is one registered hook.
type Callback func(ctx context.Context, e *Event) error

type entry struct {
	name string
	fn   Callback
}

// Registry is the process-scoped hook registry, keyed by record-type name
// and phase. Membership is mutable (add and remove by name), but invocation
// order is always current insertion order: a hook removed and re-added runs
// after the hooks registered in between.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]map[Phase][]entry
}

// NewRegistry returns an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{hooks: make(map[string]map[Phase][]entry)}
}

// Add registers a hook. The name may be empty for anonymous hooks; only
// named hooks can be removed.
func (r *Registry) Add(typeName string, p Phase, name string, fn Callback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.hooks[typeName]
	if m == nil {
		m = make(map[Phase][]entry)
		r.hooks[typeName] = m
	}
	m[p] = append(m[p], entry{name: name, fn: fn})
}

// Remove unregisters the named hook. Removing an unknown name is a no-op.
func (r *Registry) Remove(typeName string, p Phase, name string) {
	if name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	es := r.hooks[typeName][p]
	for i, e := range es {
		if e.name == name {
			r.hooks[typeName][p] = append(append([]entry(nil), es[:i]...), es[i+1:]...)
			return
		}
	}
}

// Run invokes the phase's hooks in insertion order, stopping at the first
// failure. Failures are wrapped in a LifecycleError that preserves the
// originating cause for errors.Is/As.
func (r *Registry) Run(ctx context.Context, p Phase, e *Event) error {
	r.mu.RLock()
	es := r.hooks[e.Type][p]
	r.mu.RUnlock()
	for _, en := range es {
		if err := en.fn(ctx, e); err != nil {
			return &LifecycleError{Phase: p, Hook: en.name, Err: err}
		}
	}
	return nil
}

// LifecycleError reports the first failing hook of an operation. It wraps
// the hook's reported cause: the coordinator re-raises the originating
// violation, never a generic failure.
type LifecycleError struct {
	Phase Phase
	Hook  string
	Err   error
}

// Error returns the error string.
func (e *LifecycleError) Error() string {
	if e.Hook != "" {
		return fmt.Sprintf("hook: %s hook %q: %v", e.Phase, e.Hook, e.Err)
	}
	return fmt.Sprintf("hook: %s hook: %v", e.Phase, e.Err)
}

// Unwrap returns the originating cause.
func (e *LifecycleError) Unwrap() error { return e.Err }

// IsLifecycleError returns true if the error is a LifecycleError.
func IsLifecycleError(err error) bool {
	if err == nil {
		return false
	}
	var e *LifecycleError
	return errors.As(err, &e)
}
