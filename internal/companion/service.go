// Package companion provides the minimal socketunit.ServiceUnit this
// engine depends on: enough to receive a handed-off descriptor, run one
// ExecStart command with it attached, and report back whether that run
// succeeded. The companion service's own dependency graph, restart
// policy and cgroup accounting are out of scope (spec.md §6) — this is
// deliberately not a second unit state machine.
package companion

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/DankBSD/InitWare/internal/server/socketunit"
	"github.com/DankBSD/InitWare/shared/logger"
)

// Service is the concrete socketunit.ServiceUnit.
type Service struct {
	mu sync.Mutex

	id        string
	execStart *socketunit.ExecStep
	argv      []string

	loop    socketunit.EventLoop
	spawner socketunit.ProcessSpawner

	log logger.Logger

	state   string
	pid     int
	fd      *os.File
	backref *socketunit.SocketUnit
	result  socketunit.Result
}

// New constructs a Service bound to one ExecStart command.
func New(id string, execStart *socketunit.ExecStep, argv []string, loop socketunit.EventLoop, spawner socketunit.ProcessSpawner, log logger.Logger) *Service {
	return &Service{
		id:        id,
		execStart: execStart,
		argv:      argv,
		loop:      loop,
		spawner:   spawner,
		log:       log.AddContext(logger.Ctx{"unit": id}),
		state:     "dead",
	}
}

// ID implements socketunit.ServiceUnit.
func (s *Service) ID() string { return s.id }

// SetSocketFd implements socketunit.ServiceUnit: records the descriptor
// to attach as fd 3 on the next EnqueueStart, and the socket unit to
// notify once this run finishes.
func (s *Service) SetSocketFd(cfd *os.File, backref *socketunit.SocketUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.fd = cfd
	s.backref = backref

	return nil
}

// EnqueueStart implements socketunit.ServiceUnit: spawns ExecStart if not
// already running, handing across the socket fd set by SetSocketFd.
func (s *Service) EnqueueStart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == "running" {
		return nil
	}

	var extra []*os.File
	if s.fd != nil {
		extra = append(extra, s.fd)
	}

	pid, err := s.spawner.Spawn(context.Background(), s.execStart, s.argv, socketunit.ExecContext{ExtraFiles: extra}, nil, s.id, false)
	if err != nil {
		s.state = "failed"
		s.result = socketunit.ResultResources

		return fmt.Errorf("spawn %s: %w", s.id, err)
	}

	s.pid = pid
	s.state = "running"

	if s.loop != nil {
		s.loop.WatchChild(pid, s.onExit)
	}

	return nil
}

// onExit is the event loop's child-reaper callback for this service's
// pid. It closes the handed-off descriptor and notifies the triggering
// socket unit, the handoff spec.md §4.4's triggerNotify() describes.
func (s *Service) onExit(code int, outcome socketunit.ChildOutcome) {
	s.mu.Lock()

	backref := s.backref
	fd := s.fd
	s.fd = nil
	s.pid = 0

	if outcome == socketunit.OutcomeSuccess {
		s.state = "dead"
		s.result = socketunit.ResultSuccess
	} else {
		s.state = "failed"
		s.result = socketunit.ResultExitCode
	}

	result := s.result

	s.mu.Unlock()

	if fd != nil {
		_ = fd.Close()
	}

	if backref != nil {
		backref.TriggerNotify(result)
	}
}

// State implements socketunit.ServiceUnit.
func (s *Service) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// LoadState implements socketunit.ServiceUnit. Every companion.Service
// exists because its manifest was already found, so this is always
// "loaded".
func (s *Service) LoadState() string { return "loaded" }

// IsSysv implements socketunit.ServiceUnit: this engine never wraps a
// SysV init script.
func (s *Service) IsSysv() bool { return false }

// Result implements socketunit.ServiceUnit.
func (s *Service) Result() socketunit.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.result
}
