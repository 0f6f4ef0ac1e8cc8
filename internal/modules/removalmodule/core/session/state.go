// Package session owns the lifecycle of removal sessions: the installed
// source, the authored masks, the state machine and the single active run.
package session

import (
	"fmt"

	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

// StateTransitionError represents an invalid state transition error
type StateTransitionError struct {
	SessionID string
	From      types.StateKind
	To        types.StateKind
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for session %s: %s -> %s", e.SessionID, e.From, e.To)
}

// Is matches ErrInvalidState.
func (e *StateTransitionError) Is(target error) bool {
	return target == rerrors.ErrInvalidState
}

// StateMachine holds the allowed session transitions.
type StateMachine struct {
	transitions map[types.StateKind][]types.StateKind
}

// NewStateMachine creates the session transition table.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		transitions: map[types.StateKind][]types.StateKind{
			types.StateIdle: {
				types.StateEditing, // file accepted
			},
			types.StateEditing: {
				types.StateEditing,    // new file replaces the current one
				types.StateProcessing, // run started
				types.StateIdle,       // reset
				types.StateFailed,
			},
			types.StateProcessing: {
				types.StateProcessing, // progress
				types.StateComplete,
				types.StateFailed,
				types.StateIdle, // cancelled
			},
			types.StateComplete: {
				types.StateEditing, // new file
				types.StateIdle,
			},
			types.StateFailed: {
				types.StateEditing, // new file
				types.StateIdle,
			},
		},
	}
}

// CanTransition reports whether from -> to is allowed.
func (m *StateMachine) CanTransition(from, to types.StateKind) bool {
	for _, s := range m.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Validate returns a StateError when from -> to is not allowed.
func (m *StateMachine) Validate(sessionID string, from, to types.StateKind) error {
	if m.CanTransition(from, to) {
		return nil
	}
	return rerrors.StateError("transition", &StateTransitionError{SessionID: sessionID, From: from, To: to}).
		WithSession(sessionID)
}

// ValidTransitions returns the states reachable from from.
func (m *StateMachine) ValidTransitions(from types.StateKind) []types.StateKind {
	out := make([]types.StateKind, len(m.transitions[from]))
	copy(out, m.transitions[from])
	return out
}
