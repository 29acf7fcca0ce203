package socketunit

// Start implements the public start() entry point from spec.md §4.1's
// transition table: reachable only from Dead or Failed (invariant 2 makes
// every other call idempotent rather than an error, matching how the
// original unit start() calls behave for already-activating units).
func (u *SocketUnit) Start() error {
	switch u.state {
	case StateDead, StateFailed:
	default:
		return nil
	}

	u.reset()
	u.enterStartPre()

	return nil
}

func (u *SocketUnit) enterStartPre() {
	u.beginPhase(StateStartPre, PhaseStartPre)
}

// onStartPreDone continues past ExecStartPre into opening ports and
// StartChown once every StartPre step has finished. A StartPre failure
// means no ports were ever opened, so there is nothing for ExecStopPost
// to clean up — spec.md §4.1's child-exit table routes it straight to a
// FinalSigterm signal sweep instead of StopPost.
func (u *SocketUnit) onStartPreDone() {
	if u.result.IsFailure() {
		u.enterSignal(StateFinalSigterm)
		return
	}

	if err := u.openPorts(); err != nil {
		u.warn("failed to open ports: %v", err)
		u.result = ResultResources
		u.enterSignal(StateFinalSigterm)

		return
	}

	u.enterStartChown()
}

// enterStartChown only actually runs the chown step when SocketUser or
// SocketGroup was configured; otherwise it's a no-op pass-through to
// StartPost, matching spec.md §9.
func (u *SocketUnit) enterStartChown() {
	if u.cfg.SocketUser == "" && u.cfg.SocketGroup == "" {
		u.onStartChownDone()
		return
	}

	u.beginPhase(StateStartChown, PhaseStartChown)
}

// onStartChownDone routes a chown failure to StopPre, not straight to a
// signal sweep: ports are already open here, so the StopPre/StopPost
// hooks still need a chance to run before anything gets signalled
// (spec.md §4.1's child-exit table).
func (u *SocketUnit) onStartChownDone() {
	if u.result.IsFailure() {
		u.enterStopPre()
		return
	}

	u.enterStartPost()
}

func (u *SocketUnit) enterStartPost() {
	u.beginPhase(StateStartPost, PhaseStartPost)
}

func (u *SocketUnit) onStartPostDone() {
	if u.result.IsFailure() {
		u.enterStopPre()
		return
	}

	u.enterListening()
}

// enterListening implements spec.md §4.1's Listening entry: ports are
// already open from onStartPreDone, so this only arms readiness watches.
func (u *SocketUnit) enterListening() {
	u.setState(StateListening)
	u.watchPorts()
}
