package socketunit

import (
	"context"
	"os"
	"time"
)

// EventLoop is the external I/O readiness, timer and child-reaper
// primitive (spec.md §6). SocketUnit never talks to epoll/kqueue/wait4
// directly; it only ever calls these methods and receives callbacks back
// through onFdReady/onChildExit/onTimer.
type EventLoop interface {
	// WatchReadable registers fd for read readiness. onReady is called
	// with the observed event mask whenever the loop wakes for fd.
	WatchReadable(fd int, onReady func(revents int)) (Watch, error)
	// Unwatch deregisters a previously returned Watch. Safe to call with a
	// nil Watch (no-op).
	Unwatch(w Watch)

	// ArmTimer arms a one-shot deadline. It does not cancel any timer
	// armed before; SocketUnit disarms its previous timer itself so that
	// at most one deadline per unit is pending. onExpire runs on the
	// loop's thread when it fires.
	ArmTimer(d time.Duration, onExpire func()) Watch
	// DisarmTimer cancels a previously armed timer. Safe to call with a
	// nil Watch.
	DisarmTimer(w Watch)

	// WatchChild subscribes to the exit of pid. onExit is called exactly
	// once, with the classified wait status, once the loop's SIGCHLD
	// reaper collects it.
	WatchChild(pid int, onExit func(code int, outcome ChildOutcome)) Watch
	// UnwatchChild cancels a pid subscription without reaping it (used
	// when a unit stops tracking a pid it no longer cares about, e.g. on
	// reset()).
	UnwatchChild(w Watch)

	// Now returns the loop's monotonic clock, in microseconds.
	Now() int64
}

// ChildOutcome re-exports internal/linux's classification so callers of
// this package's interfaces don't need to import internal/linux directly.
type ChildOutcome int

const (
	OutcomeSuccess ChildOutcome = iota
	OutcomeExitCode
	OutcomeSignal
	OutcomeCoreDump
)

// ExecContext carries the environment a hook process runs with.
type ExecContext struct {
	Env       []string
	WorkingDir string
	ExtraFiles []*os.File // descriptors handed to the child; hook phases leave it empty
}

// ProcessSpawner is the external process-spawning and credential-resolution
// primitive (spec.md §6).
type ProcessSpawner interface {
	// Spawn starts step.Path with step's argv already expanded into
	// argv, under execCtx, with cgroupHandle (opaque, from
	// ProcessGroupRealizer) applied if non-nil, and returns its pid.
	// confirmSpawn requests best-effort interactive confirmation before
	// exec (a debugging aid; a spawner may satisfy it by just logging).
	Spawn(ctx context.Context, step *ExecStep, argv []string, execCtx ExecContext, cgroupHandle any, unitID string, confirmSpawn bool) (pid int, err error)
}

// ManifestLoader is the external unit-manifest/dependency-graph primitive
// (spec.md §6). SocketUnit only ever calls loadUnit/loadRelatedUnit to
// materialize or locate the companion service; graph resolution, drop-ins
// and default-dependency wiring live entirely on the other side of this
// interface.
type ManifestLoader interface {
	LoadUnit(name string) (ServiceUnit, error)
	LoadRelatedUnit(selfID, suffix string) (ServiceUnit, error)
	UnitNameToPrefix(id string) string
	UnitNameBuild(prefix, instance, suffix string) string
}

// ServiceUnit is the minimal surface of the companion service unit this
// engine depends on (spec.md §6). The service unit's own state machine is
// out of scope; this engine only ever sets a descriptor on it, queries its
// state, and enqueues jobs through the manager (modeled here as a method
// on ServiceUnit itself for simplicity, since "enqueue a Start job" in the
// original is just "ask the manager to start this unit").
type ServiceUnit interface {
	ID() string
	SetSocketFd(cfd *os.File, backref *SocketUnit) error
	EnqueueStart() error
	State() string
	LoadState() string
	IsSysv() bool
	Result() Result
}

// ControlBus is the external IPC/introspection primitive (spec.md §6). A
// SocketUnit reports transitions to it; it never calls back into
// SocketUnit's internals beyond the callbacks this package already
// exposes (onFdReady/onChildExit/onTimer/kill/stop/start).
type ControlBus interface {
	NotifyStateChanged(unitID string, active ActiveState, state State, result Result)
	NotifyWarning(unitID string, msg string)
}

// ProcessGroupRealizer is the external cgroup/process-group primitive
// (spec.md §6). Out of scope beyond this call shape: SocketUnit asks for a
// handle to pass to ProcessSpawner.Spawn and to kill(), and never inspects
// cgroup internals itself.
type ProcessGroupRealizer interface {
	Realize(unitID string) (handle any, err error)
	KillAll(handle any, signo int) error
	Release(handle any) error
}

// SecurityContext is the external SELinux/SMACK label-resolution primitive
// (spec.md §6, §4.2's "resolve the SELinux/SMACK creation label").
// EPERM from a SecurityContext call is always treated as best-effort by
// PortSet.open and ignored; any other error propagates.
type SecurityContext interface {
	LabelFromExecutablePath(path string) (label string, err error)
}
