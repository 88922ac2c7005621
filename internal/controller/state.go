package controller

import "errors"

// ErrInvalidState is returned when the controller finds itself in a state it does not know.
// It is fatal: the loop stops instead of guessing.
var ErrInvalidState = errors.New("controller: invalid state")

// State is the controller's current mode of operation.
type State int

const (
	StateOffline State = iota
	StateActive
	StateOverridden
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateActive:
		return "active"
	case StateOverridden:
		return "overridden"
	default:
		return "invalid"
	}
}

// Valid reports whether s is one of the enumerated states.
func (s State) Valid() bool {
	switch s {
	case StateOffline, StateActive, StateOverridden:
		return true
	}
	return false
}
