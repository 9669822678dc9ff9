package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStartsStopped(t *testing.T) {
	m := New()
	assert.Equal(t, StateStopped, m.Current())
}

func TestValidTransitionSequence(t *testing.T) {
	m := New()
	require.NoError(t, m.Transition(StateStarting))
	require.NoError(t, m.Transition(StateRunning))
	assert.Equal(t, StateRunning, m.Current())
	assert.Equal(t, StateStarting, m.Previous())

	require.NoError(t, m.Transition(StateStopping))
	require.NoError(t, m.Transition(StateStopped))
	assert.Equal(t, StateStopped, m.Current())
}

func TestInvalidTransitionRejected(t *testing.T) {
	m := New()
	err := m.Transition(StateRunning)
	assert.Error(t, err)
	assert.Equal(t, StateStopped, m.Current(), "a rejected transition must not mutate state")
}

func TestStartupFailureReturnsToStopped(t *testing.T) {
	m := New()
	require.NoError(t, m.Transition(StateStarting))
	require.NoError(t, m.Transition(StateStopped))
	assert.Equal(t, StateStopped, m.Current())
}
