package hook

import (
	"context"
	"errors"
	"fmt"
)

// A State of the lifecycle machine.
type State uint8

// Machine states. Failed is terminal and reachable from every non-Done
// state.
const (
	StateIdle State = iota
	StateBeforeValidate
	StateValidated
	StateBeforePersist
	StatePersisted
	StateAfterPersist
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateBeforeValidate: "beforeValidate",
	StateValidated:      "validated",
	StateBeforePersist:  "beforePersist",
	StatePersisted:      "persisted",
	StateAfterPersist:   "afterPersist",
	StateDone:           "done",
	StateFailed:         "failed",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// ErrReentrant is returned when the same machine instance is run twice.
// A hook invoking a nested mutating operation must start an independent
// machine; the coordinator never re-enters itself for the same logical
// operation instance.
var ErrReentrant = errors.New("hook: machine already running")

// A Machine sequences one logical mutating operation through its phases:
//
//	Idle -> BeforeValidate -> Validated -> BeforePersist -> Persisted -> AfterPersist -> Done
//
// A machine instance is single-use and not safe for concurrent use; callers
// create one per operation.
type Machine struct {
	reg   *Registry
	op    Op
	event *Event
	state State
}

// NewMachine returns an idle machine for one operation instance.
func NewMachine(reg *Registry, op Op, e *Event) *Machine {
	return &Machine{reg: reg, op: op, event: e}
}

// State returns the machine's current state.
func (m *Machine) State() State { return m.state }

// Run drives the machine to completion. validate may be nil for operations
// without a validation step (bulk update/destroy); persist returns the
// number of affected rows. After-persist hooks run even when zero rows were
// affected. Any failure moves the machine to Failed and is returned with
// its originating cause intact.
func (m *Machine) Run(ctx context.Context, validate func(context.Context) error, persist func(context.Context) (int64, error)) error {
	if m.state != StateIdle {
		return fmt.Errorf("hook: running %s for %s: %w", m.op, m.event.Type, ErrReentrant)
	}
	if validate != nil {
		m.state = StateBeforeValidate
		if err := m.reg.Run(ctx, BeforeValidate, m.event); err != nil {
			return m.fail(err)
		}
		if err := validate(ctx); err != nil {
			return m.fail(err)
		}
		if err := m.reg.Run(ctx, AfterValidate, m.event); err != nil {
			return m.fail(err)
		}
	}
	m.state = StateValidated

	before, after := persistPhases(m.op)
	m.state = StateBeforePersist
	if err := m.reg.Run(ctx, before, m.event); err != nil {
		return m.fail(err)
	}
	affected, err := persist(ctx)
	if err != nil {
		return m.fail(err)
	}
	m.event.Affected = affected
	m.state = StatePersisted

	m.state = StateAfterPersist
	if err := m.reg.Run(ctx, after, m.event); err != nil {
		return m.fail(err)
	}
	m.state = StateDone
	return nil
}

func (m *Machine) fail(err error) error {
	m.state = StateFailed
	return err
}
