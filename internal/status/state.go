package status

import (
	"fmt"
	"slices"
	"sync"
)

// State is a named state of a Machine.
type State string

// Table lists the states reachable from each state.
type Table map[State][]State

// Daemon states of chatd.
const (
	Booting  State = "BOOTING"
	Serving  State = "SERVING"
	Draining State = "DRAINING"
	Stopped  State = "STOPPED"
	Failed   State = "FAILED"
)

// DaemonTable is the lifecycle of a chatd process.
var DaemonTable = Table{
	Booting:  {Serving, Failed},
	Serving:  {Draining, Failed},
	Draining: {Stopped, Failed},
	Failed:   {Stopped},
}

// Change describes one accepted transition.
type Change struct {
	From State
	To   State
}

// Machine tracks a current state and enforces a transition table.
// OnChange, if set, is called after every accepted transition while the
// machine lock is held, so observers see changes in order.
type Machine struct {
	mu       sync.RWMutex
	current  State
	table    Table
	onChange func(Change)
}

// NewMachine creates a machine in the initial state.
func NewMachine(initial State, table Table, onChange func(Change)) *Machine {
	return &Machine{current: initial, table: table, onChange: onChange}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Is reports whether the machine is in any of the given states.
func (m *Machine) Is(states ...State) bool {
	return slices.Contains(states, m.Current())
}

// Transition moves to the given state or returns an error if the table
// does not allow it.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(m.table[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.onChange != nil {
		m.onChange(Change{From: from, To: to})
	}
	return nil
}
