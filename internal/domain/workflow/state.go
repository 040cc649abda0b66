package workflow

// State is the status of an expense in its approval lifecycle
type State string

const (
	StateDraft     State = "DRAFT"
	StatePending   State = "PENDING"
	StateApproved  State = "APPROVED"
	StateRejected  State = "REJECTED"
	StateCancelled State = "CANCELLED"
)

// IsTerminal returns true if no further approval decisions are accepted in this state.
// A rejected expense may still be resubmitted, which starts a new chain.
func (s State) IsTerminal() bool {
	switch s {
	case StateApproved, StateRejected, StateCancelled:
		return true
	}
	return false
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known lifecycle state
func (s State) IsValid() bool {
	switch s {
	case StateDraft, StatePending, StateApproved, StateRejected, StateCancelled:
		return true
	}
	return false
}

// ParseState converts a stored or user supplied value into a State
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.IsValid() {
		return "", ErrInvalidState
	}
	return s, nil
}
