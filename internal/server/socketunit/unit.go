// Package socketunit implements the socket-activation unit engine: the
// per-socket state machine, endpoint construction, option application,
// connection dispatch and state serialization described in spec.md. The
// five components spec.md separates (SocketUnit, PortSet, OptionApplier,
// ConnectionDispatcher, StateSerializer) share this one package — they
// mutate the same Port slice and the same state machine on every event,
// and splitting them into separate Go packages would force a dependency
// cycle between "the state machine" and "the helpers that drive it". The
// teacher's own internal/server/device package is organized the same way:
// one flat package, one file per concern.
package socketunit

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/DankBSD/InitWare/shared/logger"
)

// SocketUnit is the aggregate described in spec.md §3.
type SocketUnit struct {
	id     string
	logger logger.Logger

	state  State
	result Result

	ports []*Port

	commands [5][]*ExecStep // indexed by ExecPhase; PhaseStartChown unused

	controlPid           int
	controlCommand        *ExecStep
	controlCommandPhase   ExecPhase
	controlCommandActive  bool // true once a phase has started, even for StartChown which has no ExecStep
	controlWatch          Watch
	controlSpawnCancel    context.CancelFunc

	timerWatch Watch

	cfg Config

	serviceTemplate string // unit name to load() for per-connection instances
	service         ServiceUnit

	nAccepted    uint64
	nConnections int

	triggerTimestamps []int64 // monotonic usec, trimmed to the configured interval

	// flushPending records a stop-while-accepting race: set whenever the
	// unit leaves Listening/Running for a state that still keeps ports
	// open but no longer watches them (spec.md §4.1 per-connection step
	// 2). onFdReady consults it to drain a readiness callback that was
	// already queued by the event loop's current batch before the
	// Unwatch took effect, instead of resurrecting a new service instance
	// for it.
	flushPending bool

	warnings []string

	loop     EventLoop
	spawner  ProcessSpawner
	manifest ManifestLoader
	security SecurityContext
	cgroups  ProcessGroupRealizer
	bus      ControlBus
}

// Deps bundles the external collaborators a SocketUnit needs. Every field
// is a named interface per spec.md §6; nil collaborators are tolerated
// where the corresponding functionality is simply unreachable (e.g. no
// SecurityContext means label resolution is always skipped, as if EPERM).
type Deps struct {
	Loop     EventLoop
	Spawner  ProcessSpawner
	Manifest ManifestLoader
	Security SecurityContext
	Cgroups  ProcessGroupRealizer
	Bus      ControlBus
	Logger   logger.Logger
}

// NewUnit constructs a SocketUnit in state Dead, as load() would before any
// manifest keys are applied. id is the stable textual identifier.
func NewUnit(id string, deps Deps) *SocketUnit {
	log := deps.Logger
	if log == nil {
		log = logger.NewForTesting()
	}

	return &SocketUnit{
		id:      id,
		logger:  log.AddContext(logger.Ctx{"unit": id}),
		state:   StateDead,
		result:  ResultSuccess,
		cfg:     DefaultConfig(),
		loop:    deps.Loop,
		spawner: deps.Spawner,
		manifest: deps.Manifest,
		security: deps.Security,
		cgroups: deps.Cgroups,
		bus:     deps.Bus,
	}
}

// ID returns the unit's stable textual identifier.
func (u *SocketUnit) ID() string { return u.id }

// State returns the current machine state.
func (u *SocketUnit) State() State { return u.state }

// Result returns the most recent result.
func (u *SocketUnit) Result() Result { return u.result }

// SubState returns the lowercase-hyphenated state name, matching the
// public contract name in spec.md §4.1 ("subState()").
func (u *SocketUnit) SubState() string { return u.state.String() }

// ActiveState returns the coarse public state for the manager.
func (u *SocketUnit) ActiveState() ActiveState { return activeState(u.state) }

// Load applies manifest configuration to the unit. Real manifest parsing
// (drop-ins, dependency graph) is ManifestLoader's job (spec.md §1); this
// only accepts the already-decoded Config and port/command lists, mirroring
// how the original's socket_load() is mostly config_parse() callbacks
// writing into the same struct this Config represents.
func (u *SocketUnit) Load(cfg Config, ports []*Port, commands [5][]*ExecStep, serviceTemplate string) {
	u.cfg = cfg
	u.ports = ports
	u.commands = commands
	u.serviceTemplate = serviceTemplate

	for _, p := range u.ports {
		p.Fd = -1
	}
}

// SetService binds the explicit (Accept=no, non-default-named) companion
// service unit this socket triggers. Unused when Accept=yes, where each
// connection instantiates its own service through ManifestLoader instead.
func (u *SocketUnit) SetService(svc ServiceUnit) {
	u.service = svc
}

// Verify validates the loaded configuration per spec.md §6's "Verification
// failures at load()". Returns a descriptive error and leaves the unit's
// state unchanged.
func (u *SocketUnit) Verify() error {
	if len(u.ports) == 0 {
		return fmt.Errorf("unit %s: no Listen* directive configured", u.id)
	}

	if u.cfg.Accept {
		for _, p := range u.ports {
			if p.Kind != KindSocket {
				return fmt.Errorf("unit %s: Accept=yes requires only socket ports, got %s", u.id, p.Kind)
			}

			if !p.Acceptable() {
				return fmt.Errorf("unit %s: Accept=yes requires stream or sequential-packet sockets", u.id)
			}
		}

		if u.cfg.MaxConnections <= 0 {
			return fmt.Errorf("unit %s: Accept=yes requires MaxConnections > 0", u.id)
		}

		if u.service != nil {
			return fmt.Errorf("unit %s: Accept=yes is incompatible with an explicit Service= binding", u.id)
		}
	}

	if u.cfg.PAMName != "" && !u.cfg.KillModeControlGroup {
		return fmt.Errorf("unit %s: PAMName requires KillMode=control-group", u.id)
	}

	return nil
}

// Reset clears result back to Success and any accumulated warnings,
// mirroring what a fresh start() does before entering StartPre.
func (u *SocketUnit) reset() {
	u.result = ResultSuccess
	u.warnings = nil
}

// Warnings returns accumulated tolerant-failure warnings (spec.md §7),
// newest last.
func (u *SocketUnit) Warnings() []string {
	return u.warnings
}

// warn records a warning event without altering result (spec.md §4.3).
func (u *SocketUnit) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	u.warnings = append(u.warnings, msg)
	u.logger.Warn(msg)

	if u.bus != nil {
		u.bus.NotifyWarning(u.id, msg)
	}
}

// nextAcceptedSeq atomically increments and returns nAccepted, used as the
// per-connection instance suffix. Kept as a plain field (not atomic.Uint64)
// everywhere else in the struct because every mutation happens on the
// single event-loop thread (spec.md §5).
func (u *SocketUnit) nextAcceptedSeq() uint64 {
	return atomic.AddUint64(&u.nAccepted, 1)
}

// setState is the single transition point every state change in this
// package goes through (spec.md §4.1). It enforces invariants 1/2/4, the
// fd-close rule, read-readiness suspension, and notifies the ControlBus.
func (u *SocketUnit) setState(next State) {
	prev := u.state
	u.state = next

	if !hasActiveHook(next) {
		u.cancelTimer()
		u.cancelControlPid()
	}

	wasWatched := prev == StateListening || prev == StateRunning
	if wasWatched && next != StateListening {
		u.flushPending = true
	}

	if !keepsPortsOpen(next) {
		u.closeAllPorts()
		u.flushPending = false
	}

	if next == StateListening {
		u.flushPending = false
	}

	if next != StateListening {
		u.suspendReadiness()
	}

	if u.bus != nil {
		u.bus.NotifyStateChanged(u.id, activeState(next), next, u.result)
	}

	u.logger.Debug("state transition", logger.Ctx{"from": prev.String(), "to": next.String(), "result": u.result.String()})
}

// cancelTimer disarms any pending per-unit deadline.
func (u *SocketUnit) cancelTimer() {
	if u.timerWatch != nil && u.loop != nil {
		u.loop.DisarmTimer(u.timerWatch)
	}

	u.timerWatch = nil
}

// cancelControlPid stops watching (without signalling) the currently
// tracked hook pid and clears the in-flight command bookkeeping.
func (u *SocketUnit) cancelControlPid() {
	if u.controlSpawnCancel != nil {
		u.controlSpawnCancel()
		u.controlSpawnCancel = nil
	}

	if u.controlWatch != nil && u.loop != nil {
		u.loop.UnwatchChild(u.controlWatch)
	}

	u.controlWatch = nil
	u.controlPid = 0
	u.controlCommand = nil
	u.controlCommandActive = false
}

// Kill sends signo to the controlling process for who == "control", and for
// who == "all" to the controlling process and, when a ProcessGroupRealizer
// is set, to the unit's whole process group through it. Any other value
// of who signals nothing. Out-of-scope process-group realization itself
// (spec.md §6).
func (u *SocketUnit) Kill(who string, signo int) error {
	if (who == "control" || who == "all") && u.controlPid > 0 {
		if err := killPid(u.controlPid, signo); err != nil {
			return err
		}
	}

	if who == "all" && u.cgroups != nil {
		handle, err := u.cgroups.Realize(u.id)
		if err == nil {
			return u.cgroups.KillAll(handle, signo)
		}
	}

	return nil
}
