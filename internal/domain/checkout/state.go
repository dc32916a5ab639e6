package checkout

import "fmt"

// State is a checkout attempt's position in the purchase protocol.
type State string

const (
	Idle            State = "idle"
	CreatingOrder   State = "creating_order"
	AwaitingPayment State = "awaiting_payment"
	Finalizing      State = "finalizing"
	Succeeded       State = "succeeded"
	Cancelled       State = "cancelled"
	Failed          State = "failed"
)

// transitions lists the allowed successors of every non-terminal state.
var transitions = map[State][]State{
	Idle:            {CreatingOrder},
	CreatingOrder:   {AwaitingPayment, Failed},
	AwaitingPayment: {Finalizing},
	Finalizing:      {Succeeded, Cancelled, Failed},
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == Succeeded || s == Cancelled || s == Failed
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s State) String() string { return string(s) }

// TransitionError is returned when a transition is not allowed from the
// attempt's current state, typically because the attempt already moved on.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("checkout cannot move from %s to %s", e.From, e.To)
}
