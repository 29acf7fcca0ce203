package socketunit

// State is one of the 13 states of the socket unit start/stop state
// machine (spec.md §3/§4.1).
type State int

const (
	StateDead State = iota
	StateStartPre
	StateStartChown
	StateStartPost
	StateListening
	StateRunning
	StateStopPre
	StateStopPreSigterm
	StateStopPreSigkill
	StateStopPost
	StateFinalSigterm
	StateFinalSigkill
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDead:
		return "dead"
	case StateStartPre:
		return "start-pre"
	case StateStartChown:
		return "start-chown"
	case StateStartPost:
		return "start-post"
	case StateListening:
		return "listening"
	case StateRunning:
		return "running"
	case StateStopPre:
		return "stop-pre"
	case StateStopPreSigterm:
		return "stop-pre-sigterm"
	case StateStopPreSigkill:
		return "stop-pre-sigkill"
	case StateStopPost:
		return "stop-post"
	case StateFinalSigterm:
		return "final-sigterm"
	case StateFinalSigkill:
		return "final-sigkill"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ActiveState is the coarse public state the manager reports for the unit,
// per spec.md §4.1's setState() mapping.
type ActiveState int

const (
	ActiveStateInactive ActiveState = iota
	ActiveStateActivating
	ActiveStateActive
	ActiveStateDeactivating
	ActiveStateFailed
)

// String implements fmt.Stringer.
func (a ActiveState) String() string {
	switch a {
	case ActiveStateInactive:
		return "inactive"
	case ActiveStateActivating:
		return "activating"
	case ActiveStateActive:
		return "active"
	case ActiveStateDeactivating:
		return "deactivating"
	case ActiveStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// activeState implements the setState() mapping from spec.md §4.1.
func activeState(s State) ActiveState {
	switch s {
	case StateDead:
		return ActiveStateInactive
	case StateStartPre, StateStartChown, StateStartPost:
		return ActiveStateActivating
	case StateListening, StateRunning:
		return ActiveStateActive
	case StateStopPre, StateStopPreSigterm, StateStopPreSigkill, StateStopPost, StateFinalSigterm, StateFinalSigkill:
		return ActiveStateDeactivating
	case StateFailed:
		return ActiveStateFailed
	default:
		return ActiveStateInactive
	}
}

// hasActiveHook reports whether state is one of the states invariant 4
// allows to carry a nonzero controlPid or armed timer.
func hasActiveHook(s State) bool {
	switch s {
	case StateStartPre, StateStartChown, StateStartPost,
		StateStopPre, StateStopPreSigterm, StateStopPreSigkill, StateStopPost,
		StateFinalSigterm, StateFinalSigkill:
		return true
	default:
		return false
	}
}

// keepsPortsOpen reports whether state is one of the states invariant 4/
// setState() keeps descriptors open in: StartChown, StartPost, Listening,
// Running and the StopPre states. Every other state (Dead, Failed,
// StartPre, StopPost, FinalSigterm, FinalSigkill) has them closed.
func keepsPortsOpen(s State) bool {
	switch s {
	case StateStartChown, StateStartPost, StateListening, StateRunning,
		StateStopPre, StateStopPreSigterm, StateStopPreSigkill:
		return true
	default:
		return false
	}
}
