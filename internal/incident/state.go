package incident

import (
	"encoding/json"

	dErrors "custodia/pkg/domain-errors"
)

// State is an incident lifecycle stage. The progression is one-directional
// except that investigation may re-enter containment when containment has to
// be repeated.
type State int

const (
	StateNew State = iota
	StateTriaged
	StateContained
	StateInvestigating
	StateRecovering
	StateResolved
	StateClosed
)

var stateNames = [...]string{
	StateNew:           "new",
	StateTriaged:       "triaged",
	StateContained:     "contained",
	StateInvestigating: "investigating",
	StateRecovering:    "recovering",
	StateResolved:      "resolved",
	StateClosed:        "closed",
}

func (s State) String() string {
	if s < StateNew || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func ParseState(raw string) (State, error) {
	for s, name := range stateNames {
		if raw == name {
			return State(s), nil
		}
	}
	return 0, dErrors.Newf(dErrors.CodeInvalidInput, "unknown incident state %q", raw)
}

// States serialize by name so stored timelines stay readable and stable
// across enum reordering.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// transitions is the exhaustive table of legal moves.
var transitions = map[State][]State{
	StateNew:           {StateTriaged},
	StateTriaged:       {StateContained},
	StateContained:     {StateInvestigating},
	StateInvestigating: {StateRecovering, StateContained},
	StateRecovering:    {StateResolved},
	StateResolved:      {StateClosed},
	StateClosed:        {},
}

// CanTransitionTo reports whether target is a legal next state.
func (s State) CanTransitionTo(target State) bool {
	for _, next := range transitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool { return s == StateClosed }

// Open reports whether the incident still demands attention.
func (s State) Open() bool { return s != StateResolved && s != StateClosed }

func invalidTransition(from, to State) error {
	return dErrors.Newf(dErrors.CodeInvalidTransition,
		"cannot move incident from %q to %q", from, to)
}
