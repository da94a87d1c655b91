package reconnect

import (
	"encoding/json"
	"testing"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateError, "error"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(StateConnected)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `"connected"` {
		t.Errorf("Marshal() = %s, want \"connected\"", data)
	}

	var s State
	if err := json.Unmarshal([]byte(`"degraded"`), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s != StateError {
		t.Errorf("Unmarshal(degraded) = %v, want %v", s, StateError)
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateConnecting, StateConnecting, true},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateError, true},
		{StateConnected, StateConnecting, true},
		{StateConnected, StateError, false},
		{StateError, StateConnecting, true},
		{StateError, StateConnected, false},
		{StateConnected, StateDisconnected, true},
		{StateError, StateDisconnected, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%v, %v) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCanStart(t *testing.T) {
	if !StateDisconnected.CanStart() || !StateError.CanStart() {
		t.Error("CanStart() should allow Disconnected and Error")
	}
	if StateConnecting.CanStart() || StateConnected.CanStart() {
		t.Error("CanStart() should reject Connecting and Connected")
	}
}
