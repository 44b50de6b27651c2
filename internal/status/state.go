package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	Unpaired     State = "UNPAIRED"
	Connecting   State = "CONNECTING"
	Syncing      State = "SYNCING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Error        State = "ERROR"
)

// EventStatusChanged carries a StatusChange payload.
const EventStatusChanged = "status.changed"

var validTransitions = map[State][]State{
	Booting:      {Unpaired, Connecting, Error},
	Unpaired:     {Connecting, Error},
	Connecting:   {Syncing, Unpaired, Reconnecting, Error},
	Syncing:      {Ready, Reconnecting, Error},
	Ready:        {Syncing, Reconnecting, Unpaired, Error},
	Reconnecting: {Connecting, Error},
	Error:        {Booting},
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// Snapshot is the current state and when it was entered.
type Snapshot struct {
	State State
	Since time.Time
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a state machine in Booting. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns the current state with its entry time.
func (m *Machine) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.current, Since: m.since}
}

// Transition moves to a new state. The change event is published after the
// machine is unlocked, so listeners may transition again.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	if !slices.Contains(validTransitions[m.current], to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	m.since = time.Now()
	m.mu.Unlock()

	if m.bus == nil {
		return nil
	}
	return m.bus.Publish(bus.Event{
		Kind:    EventStatusChanged,
		Subject: to,
		Payload: StatusChange{From: from, To: to},
	})
}

// TransitionIf moves to the given state only when currently in from.
// Reports whether the transition happened.
func (m *Machine) TransitionIf(from, to State) (bool, error) {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur != from {
		return false, nil
	}
	return true, m.Transition(to)
}
