package socketunit

import "time"

// armTimeoutTimer arms the single per-unit deadline from Config.TimeoutUsec
// (spec.md invariant: at most one pending deadline per unit). A
// TimeoutUsec of 0 means "wait forever", matching the manifest default
// override behavior.
func (u *SocketUnit) armTimeoutTimer() {
	if u.loop == nil || u.cfg.TimeoutUsec <= 0 {
		return
	}

	d := time.Duration(u.cfg.TimeoutUsec) * time.Microsecond
	u.cancelTimer()
	u.timerWatch = u.loop.ArmTimer(d, u.onTimer)
}

// onTimer implements spec.md §4.1's timeout-escalation table: what
// happens when a state's deadline expires without the event it was
// waiting for. Every branch marks the unit's result Timeout, matching
// the original's unconditional SOCKET_FAILURE_TIMEOUT on every arm of
// socket_timer_event.
func (u *SocketUnit) onTimer() {
	u.timerWatch = nil
	u.result = ResultTimeout

	switch u.state {
	case StateStartPre:
		u.warn("%s timed out, terminating", u.state)
		u.cancelControlPid()
		u.enterSignal(StateFinalSigterm)

	case StateStartChown, StateStartPost:
		u.warn("%s timed out, stopping", u.state)
		u.cancelControlPid()
		u.enterStopPre()

	case StateStopPre:
		u.warn("stop-pre timed out, terminating")
		u.cancelControlPid()
		u.enterSignal(StateStopPreSigterm)

	case StateStopPreSigterm:
		if u.cfg.SendSigkill {
			u.warn("stopping timed out, killing")
			u.enterSignal(StateStopPreSigkill)
		} else {
			u.warn("stopping timed out, skipping SIGKILL")
			u.enterStopPost()
		}

	case StateStopPreSigkill:
		u.warn("still around after SIGKILL, ignoring")
		u.enterStopPost()

	case StateStopPost:
		u.warn("stop-post timed out, terminating")
		u.cancelControlPid()
		u.enterSignal(StateFinalSigterm)

	case StateFinalSigterm:
		if u.cfg.SendSigkill {
			u.warn("stopping timed out (2), killing")
			u.enterSignal(StateFinalSigkill)
		} else {
			u.warn("stopping timed out (2), skipping SIGKILL")
			u.enterDeadOrFailed()
		}

	case StateFinalSigkill:
		u.warn("still around after SIGKILL (2), entering failed mode")
		u.enterDeadOrFailed()
	}
}
