package reconnect

import (
	"encoding/json"
	"fmt"
)

// State is the connection state of the chain event stream.
type State int32

const (
	// StateDisconnected is the initial state and the state after Stop.
	StateDisconnected State = iota

	// StateConnecting covers the initial handshake and every pending retry.
	StateConnecting

	// StateConnected indicates the stream is live and listeners are bound.
	StateConnected

	// StateError indicates retries were exhausted and the owner fell back to
	// degraded polling.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseState(str)
	return nil
}

// ParseState converts a string to State. Unknown strings map to
// StateDisconnected.
func ParseState(s string) State {
	switch s {
	case "connecting":
		return StateConnecting
	case "connected":
		return StateConnected
	case "error", "degraded":
		return StateError
	default:
		return StateDisconnected
	}
}

// IsDegraded reports whether the state is the post-exhaustion fallback.
func (s State) IsDegraded() bool {
	return s == StateError
}

// CanStart reports whether a manual start may begin a new connection cycle
// from this state.
func (s State) CanStart() bool {
	return s == StateDisconnected || s == StateError
}

// validTransitions lists the allowed state changes. Stop may force
// StateDisconnected from anywhere and is handled separately.
var validTransitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnecting, StateConnected, StateError},
	StateConnected:    {StateConnecting},
	StateError:        {StateConnecting},
}

// CanTransition returns true if the transition from -> to is valid.
func CanTransition(from, to State) bool {
	if to == StateDisconnected {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError represents an invalid state transition.
type TransitionError struct {
	From State
	To   State
}

// Error implements error.
func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}
