package sequential

import "signal-enginev1/internal/model"

// Machine is a stateful wrapper around Step for incremental use.
type Machine struct {
	state State
	last  model.SequentialFields
	count int
}

// NewMachine returns a Machine with no history.
func NewMachine() *Machine {
	return &Machine{}
}

// Update consumes one bar and returns its snapshot.
func (m *Machine) Update(b model.Bar) model.SequentialFields {
	m.state, m.last = Step(m.state, b)
	m.count++
	return m.last
}

// Peek returns the snapshot b would produce without consuming it.
func (m *Machine) Peek(b model.Bar) model.SequentialFields {
	_, f := Step(m.state, b)
	return f
}

// Snapshot returns the fields produced by the most recent Update.
func (m *Machine) Snapshot() model.SequentialFields { return m.last }

// State returns a copy of the current state.
func (m *Machine) State() State { return m.state }

// Count returns how many bars have been consumed.
func (m *Machine) Count() int { return m.count }

// Reset discards all history.
func (m *Machine) Reset() {
	*m = Machine{}
}

// Run feeds bars through a fresh tracker and returns one snapshot per bar.
// Bars must already be ordered by date.
func Run(bars []model.Bar) []model.SequentialFields {
	out := make([]model.SequentialFields, len(bars))
	var s State
	for i, b := range bars {
		s, out[i] = Step(s, b)
	}
	return out
}
