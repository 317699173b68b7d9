package incident

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StateNew, StateTriaged, true},
		{StateTriaged, StateContained, true},
		{StateContained, StateInvestigating, true},
		{StateInvestigating, StateRecovering, true},
		{StateInvestigating, StateContained, true}, // containment re-entry
		{StateRecovering, StateResolved, true},
		{StateResolved, StateClosed, true},

		{StateNew, StateClosed, false},
		{StateNew, StateContained, false},
		{StateTriaged, StateNew, false},
		{StateContained, StateTriaged, false},
		{StateRecovering, StateClosed, false},
		{StateResolved, StateNew, false},
		{StateClosed, StateNew, false},
		{StateClosed, StateResolved, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+" to "+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateClosed.Terminal())
	assert.Empty(t, transitions[StateClosed])
	for s := StateNew; s < StateClosed; s++ {
		assert.False(t, s.Terminal(), s.String())
	}
}

func TestParseState(t *testing.T) {
	for s := StateNew; s <= StateClosed; s++ {
		parsed, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseState("escalated")
	require.Error(t, err)
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(StateInvestigating)
	require.NoError(t, err)
	assert.Equal(t, `"investigating"`, string(data))

	var s State
	require.NoError(t, json.Unmarshal([]byte(`"recovering"`), &s))
	assert.Equal(t, StateRecovering, s)

	require.Error(t, json.Unmarshal([]byte(`"limbo"`), &s))
}
