package link

import (
	"errors"
	"fmt"
	"sync"

	"github.com/smartthermostat/gattlink/pkg/gatt"
)

// ErrInvalidTransition is returned for inputs the current state does not accept.
var ErrInvalidTransition = errors.New("invalid transition")

// State is the connection lifecycle state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateBondCheck
	StateDiscovering
	StateReady
	StateDisconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateBondCheck:
		return "CONNECTED_BOND_CHECK"
	case StateDiscovering:
		return "DISCOVERING_SERVICES"
	case StateReady:
		return "READY"
	case StateDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Input drives the state machine.
type Input uint8

const (
	InputConnectRequested Input = iota
	InputLinkEstablished
	InputBeginDiscovery
	InputDiscoverySucceeded
	InputDiscoveryFailed
	InputLinkDropped
	InputDisconnectRequested
	InputConnectionError
	InputTeardownComplete
)

// String returns the input name.
func (i Input) String() string {
	switch i {
	case InputConnectRequested:
		return "connect_requested"
	case InputLinkEstablished:
		return "link_established"
	case InputBeginDiscovery:
		return "begin_discovery"
	case InputDiscoverySucceeded:
		return "discovery_succeeded"
	case InputDiscoveryFailed:
		return "discovery_failed"
	case InputLinkDropped:
		return "link_dropped"
	case InputDisconnectRequested:
		return "disconnect_requested"
	case InputConnectionError:
		return "connection_error"
	case InputTeardownComplete:
		return "teardown_complete"
	default:
		return "unknown"
	}
}

var transitions = buildTransitions()

func buildTransitions() map[State]map[Input]State {
	t := map[State]map[Input]State{
		StateDisconnected: {InputConnectRequested: StateConnecting},
		StateConnecting:   {InputLinkEstablished: StateBondCheck},
		StateBondCheck:    {InputBeginDiscovery: StateDiscovering},
		StateDiscovering: {
			InputDiscoverySucceeded: StateReady,
			InputDiscoveryFailed:    StateDisconnecting,
		},
		StateReady:         {},
		StateDisconnecting: {InputTeardownComplete: StateDisconnected},
	}
	for from, row := range t {
		if from == StateDisconnected {
			continue
		}
		for _, in := range []Input{InputLinkDropped, InputDisconnectRequested, InputConnectionError} {
			if _, ok := row[in]; !ok && from != StateDisconnecting {
				row[in] = StateDisconnecting
			}
		}
	}
	return t
}

// Next looks up the transition for (from, in).
func Next(from State, in Input) (State, bool) {
	to, ok := transitions[from][in]
	return to, ok
}

// Machine holds the current state together with the bond state and the
// service catalog captured on discovery.
type Machine struct {
	mu      sync.RWMutex
	state   State
	bond    gatt.BondState
	catalog *gatt.Catalog

	onStateChange func(old, new State, in Input)
}

// NewMachine returns a machine in StateDisconnected.
func NewMachine() *Machine {
	return &Machine{state: StateDisconnected}
}

// OnStateChange sets the callback invoked after every transition. It runs on
// the goroutine that called Fire, outside the machine's lock.
func (m *Machine) OnStateChange(fn func(old, new State, in Input)) {
	m.mu.Lock()
	m.onStateChange = fn
	m.mu.Unlock()
}

// Fire applies in. Entering READY requires a catalog set with SetCatalog
// beforehand; entering DISCONNECTED discards the catalog and bond state.
func (m *Machine) Fire(in Input) (State, error) {
	m.mu.Lock()
	from := m.state
	to, ok := Next(from, in)
	if !ok {
		m.mu.Unlock()
		return from, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, in, from)
	}
	m.state = to
	if to == StateDisconnected {
		m.catalog = nil
		m.bond = gatt.BondNone
	}
	cb := m.onStateChange
	m.mu.Unlock()

	if cb != nil {
		cb(from, to, in)
	}
	return to, nil
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Ready reports whether operations are legal.
func (m *Machine) Ready() bool {
	return m.State() == StateReady
}

// Connected reports whether a link exists (any state between link
// establishment and teardown).
func (m *Machine) Connected() bool {
	switch m.State() {
	case StateBondCheck, StateDiscovering, StateReady:
		return true
	}
	return false
}

// SetBond records the latest bond state.
func (m *Machine) SetBond(b gatt.BondState) {
	m.mu.Lock()
	m.bond = b
	m.mu.Unlock()
}

// Bond returns the latest bond state.
func (m *Machine) Bond() gatt.BondState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bond
}

// SetCatalog stores the discovered services.
func (m *Machine) SetCatalog(c *gatt.Catalog) {
	m.mu.Lock()
	m.catalog = c
	m.mu.Unlock()
}

// Catalog returns the discovered services, or nil before discovery.
func (m *Machine) Catalog() *gatt.Catalog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.catalog
}

// Lookup finds a characteristic in the discovered catalog.
func (m *Machine) Lookup(id gatt.AttributeID) (gatt.Characteristic, bool) {
	return m.Catalog().Lookup(id)
}
