package lifecycle

import "github.com/example/superapp-dispatch/internal/models"

type State struct {
	Phase    models.Phase `json:"status"`
	Index    int          `json:"phaseIndex"`
	ETA      int          `json:"eta"`
	Terminal bool         `json:"terminal"`
}

// Machine is the timer-free state of one record. It is not safe for concurrent use.
type Machine struct {
	track Track
	index int
	eta   int
}

func NewMachine(t Track) *Machine {
	return &Machine{track: t, eta: t.TotalETA}
}

func (m *Machine) State() State {
	return State{
		Phase:    m.track.Phases[m.index],
		Index:    m.index,
		ETA:      m.eta,
		Terminal: m.index == len(m.track.Phases)-1,
	}
}

// Advance moves one phase forward. It reports false, leaving the state
// unchanged, once the terminal phase has been reached.
func (m *Machine) Advance() (State, bool) {
	last := len(m.track.Phases) - 1
	if m.index >= last {
		return m.State(), false
	}
	m.index++
	m.eta = max(0, m.eta-m.track.Decrement)
	if m.index == last {
		m.eta = 0
	}
	return m.State(), true
}
