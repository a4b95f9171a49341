package mediatrack

import (
	"fmt"

	"github.com/pion/mediatrack/pkg/status"
)

// State represents a track's lifecycle state
type State string

const (
	// StateIdle means the track exists but is not bound to any network
	// endpoint. Filters and observers can be configured in this state.
	StateIdle State = "idle"
	// StateAttaching is held while the binding is being created.
	StateAttaching State = "attaching"
	// StateAttachedEnabled means frames flow between the track and its
	// endpoint.
	StateAttachedEnabled State = "attached-enabled"
	// StateAttachedDisabled keeps the binding but suppresses frames at the
	// track boundary.
	StateAttachedDisabled State = "attached-disabled"
	// StateDetaching is held while the binding drains and is torn down.
	StateDetaching State = "detaching"
	// StateDestroyed is terminal.
	StateDestroyed State = "destroyed"
)

var transitions = map[State][]State{
	StateIdle:             {StateAttaching, StateDestroyed},
	StateAttaching:        {StateAttachedEnabled, StateAttachedDisabled, StateIdle},
	StateAttachedEnabled:  {StateAttachedDisabled, StateDetaching},
	StateAttachedDisabled: {StateAttachedEnabled, StateDetaching},
	StateDetaching:        {StateIdle},
}

// Attached reports whether s holds a binding.
func (s State) Attached() bool {
	return s == StateAttachedEnabled || s == StateAttachedDisabled
}

// Update updates current state, s, to next. If the transition is not legal
// or f fails to execute, s will stay unchanged.
func (s *State) Update(next State, f func() error) error {
	if err := s.check(next); err != nil {
		return err
	}

	if f != nil {
		if err := f(); err != nil {
			return err
		}
	}

	*s = next
	return nil
}

func (s *State) check(next State) error {
	for _, allowed := range transitions[*s] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("track is %s, cannot move to %s: %w", *s, next, status.ErrInvalidState)
}
