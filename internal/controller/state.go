package controller

import (
	"sync"

	"github.com/srg/imulink/internal/address"
)

// State is the lifecycle position of a device.
type State int

const (
	StateUnknown State = iota
	StateDiscovered
	StateConnecting
	StateConnected
	StateSensing
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSensing:
		return "sensing"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type stateTable struct {
	mu     sync.RWMutex
	states map[address.Addr]State
}

func newStateTable() *stateTable {
	return &stateTable{states: make(map[address.Addr]State)}
}

func (t *stateTable) get(addr address.Addr) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[addr]
}

// set stores s and returns the previous state.
func (t *stateTable) set(addr address.Addr, s State) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.states[addr]
	t.states[addr] = s
	return prev
}

// discover marks addr as discovered unless it has progressed further.
func (t *stateTable) discover(addr address.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.states[addr] {
	case StateUnknown, StateDisconnected:
		t.states[addr] = StateDiscovered
	}
}
