package session

import "fmt"

// State is the coordinator's view of the session.
type State int

const (
	// Unauthenticated means no tokens are stored.
	Unauthenticated State = iota
	// Valid means the stored access token is unexpired.
	Valid
	// Expired means tokens are stored but the access token is no longer usable.
	Expired
	// RefreshInFlight means a renewal request is outstanding.
	RefreshInFlight
	// RefreshFailed means the last renewal failed and the tokens were cleared.
	RefreshFailed
)

var stateNames = [...]string{
	Unauthenticated: "unauthenticated",
	Valid:           "valid",
	Expired:         "expired",
	RefreshInFlight: "refresh_in_flight",
	RefreshFailed:   "refresh_failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name as produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}
