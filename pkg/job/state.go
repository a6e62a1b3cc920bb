package job

import (
	"errors"
	"fmt"
)

// State is a job's position in its fixed stage sequence.
type State string

const (
	StateInit              State = "init"
	StateSizeComputed      State = "size_computed"
	StateSignaled          State = "signaled"
	StateMounted           State = "mounted"
	StateStaged            State = "staged"
	StateToolRun           State = "tool_run"
	StateArtifactsUploaded State = "artifacts_uploaded"
	StateReleased          State = "released"
	StateFailed            State = "failed"
)

// sequence is the only successful path through the stages.
var sequence = []State{
	StateInit,
	StateSizeComputed,
	StateSignaled,
	StateMounted,
	StateStaged,
	StateToolRun,
	StateArtifactsUploaded,
	StateReleased,
}

// Stages returns the non-initial states in execution order.
func Stages() []State {
	return append([]State(nil), sequence[1:]...)
}

// ErrInvalidTransition reports an attempt to skip, repeat or leave a
// terminal state. It indicates a programming error, not a runtime failure.
var ErrInvalidTransition = errors.New("invalid state transition")

// IsTerminal reports whether no further transition is possible from s.
func IsTerminal(s State) bool {
	return s == StateReleased || s == StateFailed
}

func isAllowedTransition(from, to State) bool {
	if IsTerminal(from) {
		return false
	}
	if to == StateFailed {
		return true
	}
	for i := 0; i < len(sequence)-1; i++ {
		if sequence[i] == from {
			return sequence[i+1] == to
		}
	}
	return false
}

// Machine tracks the current state and rejects transitions that do not
// follow the stage sequence.
//
// Machine is not safe for concurrent use; a job runs its stages on one
// goroutine.
type Machine struct {
	state State
}

// NewMachine returns a machine in StateInit.
func NewMachine() *Machine {
	return &Machine{state: StateInit}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Check reports whether advancing to "to" would be valid without changing
// the current state.
func (m *Machine) Check(to State) error {
	if !isAllowedTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	return nil
}

// Advance moves the machine to "to" if the transition is allowed.
func (m *Machine) Advance(to State) error {
	if err := m.Check(to); err != nil {
		return err
	}
	m.state = to
	return nil
}

// Fail moves a non-terminal machine to StateFailed. Failing an already
// failed machine is a no-op.
func (m *Machine) Fail() {
	if m.state != StateFailed && !IsTerminal(m.state) {
		m.state = StateFailed
	}
}
