package socketunit

import (
	"context"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// beginPhase starts executing phase's command list (StartChown has none
// of its own — it always runs the single internal chown step instead),
// advancing the state machine only once every step has run, per spec.md
// §4.1's control-command bookkeeping.
func (u *SocketUnit) beginPhase(state State, phase ExecPhase) {
	u.setState(state)
	u.controlCommandPhase = phase
	u.controlCommandActive = true

	if phase == PhaseStartChown {
		u.runStartChown()
		return
	}

	steps := u.commands[phase]
	if len(steps) == 0 {
		u.onPhaseComplete(phase)
		return
	}

	u.controlCommand = steps[0]
	u.runControlCommand()
}

// runControlCommand spawns the current controlCommand step.
func (u *SocketUnit) runControlCommand() {
	step := u.controlCommand
	if step == nil || u.spawner == nil {
		u.onPhaseComplete(u.controlCommandPhase)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	u.controlSpawnCancel = cancel

	pid, err := u.spawner.Spawn(ctx, step, step.Argv, ExecContext{}, u.cgroupHandle(), u.id, false)
	if err != nil {
		cancel()
		u.controlSpawnCancel = nil
		u.warn("failed to spawn %s: %v", step.Path, err)

		if !step.Ignore {
			u.result = ResultResources
		}

		u.onPhaseComplete(u.controlCommandPhase)

		return
	}

	u.controlPid = pid
	u.armTimeoutTimer()

	if u.loop != nil {
		u.controlWatch = u.loop.WatchChild(pid, func(code int, outcome ChildOutcome) {
			u.onChildExit(step, code, outcome)
		})
	}
}

// onChildExit is EventLoop's callback once a watched hook pid has been
// reaped. It classifies the outcome, chains to step.Next on success (or
// on a failure the step marked Ignore), and otherwise ends the phase.
func (u *SocketUnit) onChildExit(step *ExecStep, code int, outcome ChildOutcome) {
	pid := u.controlPid
	u.controlWatch = nil
	u.controlPid = 0
	u.controlSpawnCancel = nil
	u.cancelTimer()

	failed := outcome != OutcomeSuccess
	tolerated := failed && step != nil && step.Ignore

	if failed && !tolerated && !u.result.IsFailure() {
		switch outcome {
		case OutcomeExitCode:
			u.result = ResultExitCode
		case OutcomeSignal:
			u.result = ResultSignal
		case OutcomeCoreDump:
			u.result = ResultCoreDump
		}

		u.warn("control process %d exited with code %d", pid, code)
	}

	if step != nil && step.Next != nil && (!failed || tolerated) {
		u.controlCommand = step.Next
		u.runControlCommand()

		return
	}

	u.onPhaseComplete(u.controlCommandPhase)
}

// onPhaseComplete routes to the per-phase continuation once a phase's
// command chain (or the StartChown step) has finished.
func (u *SocketUnit) onPhaseComplete(phase ExecPhase) {
	u.controlCommandActive = false
	u.controlCommand = nil

	switch phase {
	case PhaseStartPre:
		u.onStartPreDone()
	case PhaseStartChown:
		u.onStartChownDone()
	case PhaseStartPost:
		u.onStartPostDone()
	case PhaseStopPre:
		u.onStopPreDone()
	case PhaseStopPost:
		u.onStopPostDone()
	}
}

// cgroupHandle best-effort realizes this unit's process group, used as
// ProcessSpawner.Spawn's cgroupHandle argument. A realization failure is
// tolerated — the hook still spawns, just outside any cgroup.
func (u *SocketUnit) cgroupHandle() any {
	if u.cgroups == nil {
		return nil
	}

	h, err := u.cgroups.Realize(u.id)
	if err != nil {
		return nil
	}

	return h
}

// runStartChown applies SocketUser/SocketGroup to every open port's
// descriptor directly, rather than through ProcessSpawner — chown never
// needs a child process. Per spec.md §9, when only SocketGroup is given
// the uid argument stays -1 (left unchanged) rather than being resolved
// to the invoking user's own uid.
func (u *SocketUnit) runStartChown() {
	uid, gid, err := resolveChownIDs(u.cfg.SocketUser, u.cfg.SocketGroup)
	if err != nil {
		u.warn("failed to resolve SocketUser/SocketGroup: %v", err)
		u.result = ResultResources
		u.onPhaseComplete(PhaseStartChown)

		return
	}

	for _, p := range u.ports {
		if !p.Open() {
			continue
		}

		if err := unix.Fchown(p.Fd, uid, gid); err != nil {
			u.warn("chown port %s: %v", p.Key(), err)
			u.result = ResultResources
		}
	}

	u.onPhaseComplete(PhaseStartChown)
}

// resolveChownIDs resolves SocketUser/SocketGroup into the (uid, gid)
// pair unix.Fchown expects. uid stays -1 ("don't change") when userName is
// empty. gid comes from groupName when given, otherwise from the user's
// primary group when only userName is given, and stays -1 when both are
// empty.
func resolveChownIDs(userName, groupName string) (uid, gid int, err error) {
	uid, gid = -1, -1

	if userName != "" {
		usr, err := user.Lookup(userName)
		if err != nil {
			return -1, -1, err
		}

		uid, err = strconv.Atoi(usr.Uid)
		if err != nil {
			return -1, -1, err
		}

		if groupName == "" {
			gid, err = strconv.Atoi(usr.Gid)
			if err != nil {
				return -1, -1, err
			}
		}
	}

	if groupName != "" {
		grp, err := user.LookupGroup(groupName)
		if err != nil {
			return -1, -1, err
		}

		gid, err = strconv.Atoi(grp.Gid)
		if err != nil {
			return -1, -1, err
		}
	}

	return uid, gid, nil
}
