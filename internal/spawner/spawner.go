// Package spawner implements socketunit.ProcessSpawner, generalizing the
// teacher's shared/subprocess exec.CommandContext pattern from "run a
// command and collect its output" to "start a hook process and hand its
// pid back so the event loop's own SIGCHLD reaper can track it" — a
// control-command hook is killed on escalation rather than waited on
// directly, so it can't use the teacher's RunCommand helpers as they are.
package spawner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/kballard/go-shellquote"
	"github.com/syndtr/gocapability/capability"

	"github.com/DankBSD/InitWare/internal/server/socketunit"
	"github.com/DankBSD/InitWare/shared/logger"
)

// capabilityNames resolves the manifest's textual AmbientCapabilities
// entries, the same way port_open_socket.go's netlinkFamilies resolves
// ListenNetlink family names.
var capabilityNames = map[string]capability.Cap{
	"cap_chown":            capability.CAP_CHOWN,
	"cap_dac_override":     capability.CAP_DAC_OVERRIDE,
	"cap_setuid":           capability.CAP_SETUID,
	"cap_setgid":           capability.CAP_SETGID,
	"cap_net_admin":        capability.CAP_NET_ADMIN,
	"cap_net_bind_service": capability.CAP_NET_BIND_SERVICE,
	"cap_net_raw":          capability.CAP_NET_RAW,
	"cap_sys_chroot":       capability.CAP_SYS_CHROOT,
	"cap_sys_admin":        capability.CAP_SYS_ADMIN,
	"cap_kill":             capability.CAP_KILL,
}

// Spawner is the concrete socketunit.ProcessSpawner.
type Spawner struct {
	log logger.Logger

	// AmbientCapabilities names the capabilities a hook process may keep
	// across its exec (e.g. "cap_net_bind_service" for a StartPost helper
	// that binds a privileged port on the unit's behalf). Each is granted
	// only if the daemon's own effective set already holds it.
	AmbientCapabilities []string
}

// New constructs a Spawner.
func New(log logger.Logger, ambientCaps []string) *Spawner {
	return &Spawner{log: log, AmbientCapabilities: ambientCaps}
}

// Spawn implements socketunit.ProcessSpawner.
func (s *Spawner) Spawn(ctx context.Context, step *socketunit.ExecStep, argv []string, execCtx socketunit.ExecContext, cgroupHandle any, unitID string, confirmSpawn bool) (int, error) {
	if len(argv) == 0 {
		argv = []string{step.Path}
	}

	rendered := shellquote.Join(argv...)

	if confirmSpawn {
		s.log.Info("about to spawn control process", logger.Ctx{"unit": unitID, "argv": rendered})
	} else {
		s.log.Debug("spawning control process", logger.Ctx{"unit": unitID, "argv": rendered})
	}

	cmd := exec.CommandContext(ctx, step.Path, argv[1:]...)
	cmd.Env = execCtx.Env
	cmd.Dir = execCtx.WorkingDir
	cmd.ExtraFiles = execCtx.ExtraFiles
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	caps, err := s.ambientCapSet()
	if err != nil {
		s.log.Warn("failed to resolve ambient capabilities, hook inherits none", logger.Ctx{"unit": unitID, "error": err.Error()})
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:      true,
		AmbientCaps: caps,
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %s: %w", step.Path, err)
	}

	if cgroupHandle != nil {
		s.log.Debug("spawned under cgroup handle", logger.Ctx{"unit": unitID, "pid": cmd.Process.Pid})
	}

	// The event loop's own wait4() reaper owns this pid from here on;
	// release() detaches *os.Process's finalizer without reaping so the
	// two don't race over the same exit status. It also resets
	// Process.Pid to -1, so the pid is read first.
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()

	return pid, nil
}

// ambientCapSet resolves AmbientCapabilities against the daemon's own
// effective capability set, so a hook is never granted something this
// process itself doesn't hold.
func (s *Spawner) ambientCapSet() ([]uintptr, error) {
	if len(s.AmbientCapabilities) == 0 {
		return nil, nil
	}

	caps, err := capability.NewPid2(0)
	if err != nil {
		return nil, fmt.Errorf("capability.NewPid2: %w", err)
	}

	if err := caps.Load(); err != nil {
		return nil, fmt.Errorf("capability load: %w", err)
	}

	var out []uintptr

	for _, name := range s.AmbientCapabilities {
		cp, ok := capabilityNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown capability %q", name)
		}

		if caps.Get(capability.EFFECTIVE, cp) {
			out = append(out, uintptr(cp))
		}
	}

	return out, nil
}
