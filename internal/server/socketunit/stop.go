package socketunit

import "golang.org/x/sys/unix"

// Stop implements the public stop() entry point (spec.md §4.1). Calling
// it on a unit already on its way down is a no-op, per invariant 2. A
// stop requested mid-StartPre/Chown/Post jumps straight into a SIGTERM
// sweep of the in-flight hook rather than running StopPre first — a
// not-yet-listening unit has nothing of its own for StopPre to clean up.
func (u *SocketUnit) Stop() error {
	switch u.state {
	case StateDead, StateFailed,
		StateStopPre, StateStopPreSigterm, StateStopPreSigkill, StateStopPost,
		StateFinalSigterm, StateFinalSigkill:
		return nil

	case StateStartPre, StateStartChown, StateStartPost:
		u.enterSignal(StateStopPreSigterm)
		return nil
	}

	u.enterStopPre()

	return nil
}

func (u *SocketUnit) enterStopPre() {
	u.beginPhase(StateStopPre, PhaseStopPre)
}

// onStopPreDone always proceeds to StopPost once the ExecStopPre hooks
// have run, whether or not they exited cleanly — spec.md §4.1's
// child-exit table routes both outcomes of StopPre* to enterStopPost.
func (u *SocketUnit) onStopPreDone() {
	u.enterStopPost()
}

// enterStopPost runs ExecStopPost if configured; with no hook at all
// there is nothing to wait for, so it skips straight to the FinalSigterm
// signal sweep rather than blipping through the StopPost state.
func (u *SocketUnit) enterStopPost() {
	if len(u.commands[PhaseStopPost]) == 0 {
		u.enterSignal(StateFinalSigterm)
		return
	}

	u.beginPhase(StateStopPost, PhaseStopPost)
}

// onStopPostDone always proceeds to Dead/Failed once ExecStopPost has
// run — spec.md §4.1's child-exit table routes both outcomes of
// StopPost/Final* to enterDead. FinalSigterm is reached only via
// enterStopPost's no-hook shortcut, a failed StartPre or a timer timeout,
// never from here.
func (u *SocketUnit) onStopPostDone() {
	u.enterDeadOrFailed()
}

// enterSignal implements spec.md §4.1's enterSignal(state, f): sends the
// signal state implies (SIGTERM for *Sigterm targets, SIGKILL for
// *Sigkill targets) to the controlling process and/or process group. If
// anything was actually signalled, arms the timeout and enters state;
// otherwise there is nothing left to wait for, so it advances straight
// past the signal — to StopPost for a StopPreSigterm/StopPreSigkill
// target, or to Dead/Failed for a FinalSigterm/FinalSigkill target.
func (u *SocketUnit) enterSignal(state State) {
	signo := int(unix.SIGTERM)
	if state == StateStopPreSigkill || state == StateFinalSigkill {
		signo = int(unix.SIGKILL)
	}

	killed := u.controlPid > 0 || u.cgroups != nil

	_ = u.Kill("all", signo)

	if killed {
		u.setState(state)
		u.armTimeoutTimer()

		return
	}

	if state == StateStopPreSigterm || state == StateStopPreSigkill {
		u.enterStopPost()
		return
	}

	u.enterDeadOrFailed()
}

func (u *SocketUnit) enterDeadOrFailed() {
	if u.result.IsFailure() {
		u.setState(StateFailed)
	} else {
		u.setState(StateDead)
	}
}

// enterFailedDirect jumps straight to Failed without running StopPre/
// StopPost, for conditions spec.md treats as immediately fatal rather
// than a graceful shutdown (the trigger-limit hit in dispatch.go).
func (u *SocketUnit) enterFailedDirect() {
	u.closeAllPorts()
	u.setState(StateFailed)
}
