package login

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a Flow is advanced out of order.
var ErrInvalidTransition = errors.New("invalid login flow transition")

// FlowState is the position of one login attempt.
type FlowState int

const (
	FlowPending FlowState = iota
	FlowAuthenticated
	FlowRedirected
)

func (s FlowState) String() string {
	switch s {
	case FlowPending:
		return "pending"
	case FlowAuthenticated:
		return "authenticated"
	case FlowRedirected:
		return "redirected"
	default:
		return fmt.Sprintf("FlowState(%d)", int(s))
	}
}

// Flow tracks a single login attempt through Pending, Authenticated and Redirected.
type Flow struct {
	Provider string
	state    FlowState
}

// NewFlow starts a flow in FlowPending.
func NewFlow(provider string) *Flow {
	return &Flow{Provider: provider, state: FlowPending}
}

// State returns the current state.
func (f *Flow) State() FlowState {
	return f.state
}

// Advance moves the flow to next. Only Pending→Authenticated and
// Authenticated→Redirected are legal.
func (f *Flow) Advance(next FlowState) error {
	legal := (f.state == FlowPending && next == FlowAuthenticated) ||
		(f.state == FlowAuthenticated && next == FlowRedirected)
	if !legal {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.state, next)
	}
	f.state = next
	return nil
}
