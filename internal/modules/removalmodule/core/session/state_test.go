package session

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	rerrors "github.com/mantonx/eraser/internal/modules/removalmodule/errors"
	"github.com/mantonx/eraser/internal/modules/removalmodule/types"
)

func TestStateMachine_Transitions(t *testing.T) {
	m := NewStateMachine()

	tests := []struct {
		from, to types.StateKind
		valid    bool
	}{
		{types.StateIdle, types.StateEditing, true},
		{types.StateIdle, types.StateProcessing, false},
		{types.StateIdle, types.StateComplete, false},
		{types.StateEditing, types.StateEditing, true},
		{types.StateEditing, types.StateProcessing, true},
		{types.StateEditing, types.StateIdle, true},
		{types.StateEditing, types.StateFailed, true},
		{types.StateEditing, types.StateComplete, false},
		{types.StateProcessing, types.StateProcessing, true},
		{types.StateProcessing, types.StateComplete, true},
		{types.StateProcessing, types.StateFailed, true},
		{types.StateProcessing, types.StateIdle, true},
		{types.StateProcessing, types.StateEditing, false},
		{types.StateComplete, types.StateEditing, true},
		{types.StateComplete, types.StateIdle, true},
		{types.StateComplete, types.StateProcessing, false},
		{types.StateFailed, types.StateEditing, true},
		{types.StateFailed, types.StateIdle, true},
		{types.StateFailed, types.StateProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, m.CanTransition(tt.from, tt.to))

			err := m.Validate("s1", tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, rerrors.ErrorTypeState, rerrors.GetType(err))
			assert.ErrorIs(t, err, rerrors.ErrInvalidState)

			var te *StateTransitionError
			if assert.True(t, errors.As(err, &te)) {
				assert.Equal(t, tt.from, te.From)
				assert.Equal(t, tt.to, te.To)
			}
		})
	}
}

func TestStateMachine_ValidTransitionsIsCopy(t *testing.T) {
	m := NewStateMachine()
	got := m.ValidTransitions(types.StateIdle)
	assert.Equal(t, []types.StateKind{types.StateEditing}, got)

	got[0] = types.StateComplete
	assert.True(t, m.CanTransition(types.StateIdle, types.StateEditing))
}
