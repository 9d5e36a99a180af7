package session

import (
	"fmt"
	"time"
)

// State is the lock state of the session.
type State int

const (
	// NotSet means no API key has ever been stored.
	NotSet State = iota
	// Locked means a sealed key exists but nothing is decrypted in memory.
	Locked
	// Unlocked means the decrypted key is cached in protected memory.
	Unlocked
)

var stateNames = map[State]string{
	NotSet:   "not_set",
	Locked:   "locked",
	Unlocked: "unlocked",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText renders the state as its snake_case name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a snake_case state name.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Snapshot is a point-in-time view of the session, safe to hand to the UI.
type Snapshot struct {
	State      State     `json:"state"`
	UnlockedAt time.Time `json:"unlocked_at,omitzero"`
}
