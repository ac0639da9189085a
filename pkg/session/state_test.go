package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateMachineHappyPath(t *testing.T) {
	m := newStateMachine()
	require.Equal(t, StateInitial, m.State())
	require.NoError(t, m.transition(StateHandshaking))
	require.NoError(t, m.transition(StateEstablished))
	require.NoError(t, m.transition(StateDraining))
	require.NoError(t, m.transition(StateClosed))
	require.Equal(t, StateClosed, m.State())
}

func TestStateMachineRejectsSkip(t *testing.T) {
	m := newStateMachine()
	err := m.transition(StateEstablished)
	require.Error(t, err)
	require.Equal(t, StateInitial, m.State())
}

func TestStateMachineClosedIsTerminal(t *testing.T) {
	m := newStateMachine()
	require.NoError(t, m.transition(StateHandshaking))
	require.NoError(t, m.transition(StateClosed))
	require.Error(t, m.transition(StateHandshaking))
	require.Error(t, m.transition(StateEstablished))
}

func TestStateMachineAnyStateCanClose(t *testing.T) {
	for _, s := range []State{StateInitial, StateHandshaking, StateEstablished, StateDraining} {
		m := &stateMachine{current: s}
		require.NoError(t, m.transition(StateClosed))
	}
}

func TestStateString(t *testing.T) {
	require.Equal(t, "Established", StateEstablished.String())
	require.Equal(t, "Unknown", State(99).String())
}
