package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// legal paths from Idle to every state, used to drive a machine into a
// known starting point
var pathTo = map[State][]State{
	StateIdle:                   {},
	StateActive:                 {StateActive},
	StateActiveOffline:          {StateActiveOffline},
	StateLinkDisconnectedPaused: {StateActive, StateLinkDisconnectedPaused},
	StateResumingCountdown:      {StateActive, StateLinkDisconnectedPaused, StateResumingCountdown},
	StateCancelConfirm:          {StateActive, StateCancelConfirm},
	StateWaitingForInternet:     {StateActive, StateWaitingForInternet},
}

func machineAt(t *testing.T, s State) *Machine {
	t.Helper()
	m := NewMachine(zap.NewNop())
	for _, step := range pathTo[s] {
		require.True(t, m.Transition(step), "setup transition to %s failed", step)
	}
	require.Equal(t, s, m.Current())
	return m
}

func TestTransitionClosure(t *testing.T) {
	for _, from := range States() {
		allowed := make(map[State]bool)
		for _, to := range AllowedFrom(from) {
			allowed[to] = true
		}

		for _, to := range States() {
			if allowed[to] {
				continue
			}
			m := machineAt(t, from)
			assert.False(t, m.Transition(to), "%s -> %s should be rejected", from, to)
			assert.Equal(t, from, m.Current(), "rejected move must not change state")
		}
	}
}

func TestEveryStateHasAnExit(t *testing.T) {
	for _, s := range States() {
		assert.NotEmpty(t, AllowedFrom(s), "state %s has no outgoing transitions", s)
	}
}

func TestAllowedTransitionsApply(t *testing.T) {
	for _, from := range States() {
		for _, to := range AllowedFrom(from) {
			m := machineAt(t, from)
			assert.True(t, m.Transition(to), "%s -> %s should be applied", from, to)
			assert.Equal(t, to, m.Current())
			assert.Equal(t, from, m.Previous())
		}
	}
}

func TestStartsIdle(t *testing.T) {
	m := NewMachine(zap.NewNop())
	assert.Equal(t, StateIdle, m.Current())
	assert.True(t, m.Is(StateIdle))
}

func TestRejectedTransitionKeepsPrevious(t *testing.T) {
	m := machineAt(t, StateActive)
	require.Equal(t, StateIdle, m.Previous())

	// CancelConfirm cannot jump to ResumingCountdown
	require.True(t, m.Transition(StateCancelConfirm))
	assert.False(t, m.Transition(StateResumingCountdown))
	assert.Equal(t, StateCancelConfirm, m.Current())
	assert.Equal(t, StateActive, m.Previous())
}

func TestCancelResolvesBackOrToIdle(t *testing.T) {
	// keep: back to the interrupted state
	m := machineAt(t, StateActiveOffline)
	require.True(t, m.Transition(StateCancelConfirm))
	assert.True(t, m.Transition(StateActiveOffline))

	// discard: to Idle
	m = machineAt(t, StateLinkDisconnectedPaused)
	require.True(t, m.Transition(StateCancelConfirm))
	assert.True(t, m.Transition(StateIdle))
}
