package socketunit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActiveStateMapping(t *testing.T) {
	cases := []struct {
		state State
		want  ActiveState
	}{
		{StateDead, ActiveStateInactive},
		{StateStartPre, ActiveStateActivating},
		{StateStartChown, ActiveStateActivating},
		{StateStartPost, ActiveStateActivating},
		{StateListening, ActiveStateActive},
		{StateRunning, ActiveStateActive},
		{StateStopPre, ActiveStateDeactivating},
		{StateStopPreSigterm, ActiveStateDeactivating},
		{StateStopPreSigkill, ActiveStateDeactivating},
		{StateStopPost, ActiveStateDeactivating},
		{StateFinalSigterm, ActiveStateDeactivating},
		{StateFinalSigkill, ActiveStateDeactivating},
		{StateFailed, ActiveStateFailed},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, activeState(c.state), "state %s", c.state)
	}
}

func TestHasActiveHook(t *testing.T) {
	assert.False(t, hasActiveHook(StateDead))
	assert.False(t, hasActiveHook(StateListening))
	assert.False(t, hasActiveHook(StateRunning))
	assert.False(t, hasActiveHook(StateFailed))

	assert.True(t, hasActiveHook(StateStartPre))
	assert.True(t, hasActiveHook(StateStartChown))
	assert.True(t, hasActiveHook(StateStartPost))
	assert.True(t, hasActiveHook(StateStopPre))
	assert.True(t, hasActiveHook(StateStopPreSigterm))
	assert.True(t, hasActiveHook(StateStopPreSigkill))
	assert.True(t, hasActiveHook(StateStopPost))
	assert.True(t, hasActiveHook(StateFinalSigterm))
	assert.True(t, hasActiveHook(StateFinalSigkill))
}

func TestKeepsPortsOpen(t *testing.T) {
	assert.False(t, keepsPortsOpen(StateDead))
	assert.False(t, keepsPortsOpen(StateStartPre))
	assert.False(t, keepsPortsOpen(StateFailed))
	assert.False(t, keepsPortsOpen(StateStopPost))
	assert.False(t, keepsPortsOpen(StateFinalSigterm))
	assert.False(t, keepsPortsOpen(StateFinalSigkill))

	assert.True(t, keepsPortsOpen(StateStartChown))
	assert.True(t, keepsPortsOpen(StateStartPost))
	assert.True(t, keepsPortsOpen(StateListening))
	assert.True(t, keepsPortsOpen(StateRunning))
	assert.True(t, keepsPortsOpen(StateStopPre))
	assert.True(t, keepsPortsOpen(StateStopPreSigterm))
	assert.True(t, keepsPortsOpen(StateStopPreSigkill))
}

func TestStateStringsAreStable(t *testing.T) {
	assert.Equal(t, "dead", StateDead.String())
	assert.Equal(t, "stop-pre-sigkill", StateStopPreSigkill.String())
	assert.Equal(t, "final-sigterm", StateFinalSigterm.String())
	assert.Equal(t, "unknown", State(999).String())
}
