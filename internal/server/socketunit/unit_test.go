package socketunit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeLoop is a minimal EventLoop that never actually waits on anything;
// it just lets tests construct a SocketUnit with a non-nil Deps.Loop and
// control the clock checkTriggerLimit reads.
type fakeLoop struct {
	now int64
}

func (f *fakeLoop) WatchReadable(fd int, onReady func(int)) (Watch, error) { return nil, nil }
func (f *fakeLoop) Unwatch(w Watch)                                       {}
func (f *fakeLoop) ArmTimer(d time.Duration, onExpire func()) Watch       { return nil }
func (f *fakeLoop) DisarmTimer(w Watch)                                   {}
func (f *fakeLoop) WatchChild(pid int, onExit func(int, ChildOutcome)) Watch {
	return nil
}
func (f *fakeLoop) UnwatchChild(w Watch) {}
func (f *fakeLoop) Now() int64           { return f.now }

type fakeSpawner struct{}

func (fakeSpawner) Spawn(ctx context.Context, step *ExecStep, argv []string, execCtx ExecContext, cgroupHandle any, unitID string, confirmSpawn bool) (int, error) {
	return 1, nil
}

func newTestUnit(t *testing.T) (*SocketUnit, *fakeLoop) {
	t.Helper()

	loop := &fakeLoop{}
	u := NewUnit("test.socket", Deps{Loop: loop, Spawner: fakeSpawner{}})

	return u, loop
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 128, cfg.Backlog)
	assert.Equal(t, uint32(0o755), cfg.DirectoryMode)
	assert.Equal(t, uint32(0o666), cfg.SocketMode)
	assert.Equal(t, 64, cfg.MaxConnections)
	assert.Equal(t, -1, cfg.Priority)
	assert.Equal(t, int64(90*time.Second/time.Microsecond), cfg.TimeoutUsec)
}

func TestNewUnitStartsDead(t *testing.T) {
	u, _ := newTestUnit(t)

	assert.Equal(t, StateDead, u.State())
	assert.Equal(t, ResultSuccess, u.Result())
	assert.Equal(t, ActiveStateInactive, u.ActiveState())
	assert.Equal(t, "dead", u.SubState())
}

func TestVerifyRequiresAtLeastOnePort(t *testing.T) {
	u, _ := newTestUnit(t)
	u.Load(DefaultConfig(), nil, [5][]*ExecStep{}, "")

	err := u.Verify()
	assert.Error(t, err)
}

func TestVerifyAcceptRequiresSocketPorts(t *testing.T) {
	u, _ := newTestUnit(t)

	cfg := DefaultConfig()
	cfg.Accept = true

	ports := []*Port{{Kind: KindFifo, Fd: -1, Address: PathAddress{Path: "/run/test.fifo"}}}
	u.Load(cfg, ports, [5][]*ExecStep{}, "")

	err := u.Verify()
	assert.Error(t, err)
}

func TestVerifyAcceptRejectsExplicitService(t *testing.T) {
	u, _ := newTestUnit(t)

	cfg := DefaultConfig()
	cfg.Accept = true

	ports := []*Port{{
		Kind:    KindSocket,
		Fd:      -1,
		Address: SocketAddress{Family: 2, Type: 1, IP: "127.0.0.1", Port: 8080},
	}}

	u.Load(cfg, ports, [5][]*ExecStep{}, "")
	u.SetService(&stubService{id: "echo.service"})

	err := u.Verify()
	assert.Error(t, err)
}

func TestVerifyPAMRequiresControlGroupKillMode(t *testing.T) {
	u, _ := newTestUnit(t)

	cfg := DefaultConfig()
	cfg.PAMName = "login"

	ports := []*Port{{Kind: KindFifo, Fd: -1, Address: PathAddress{Path: "/run/test.fifo"}}}
	u.Load(cfg, ports, [5][]*ExecStep{}, "")

	err := u.Verify()
	assert.Error(t, err)

	cfg.KillModeControlGroup = true
	u.Load(cfg, ports, [5][]*ExecStep{}, "")
	assert.NoError(t, u.Verify())
}

func TestTriggerLimitUnboundedWhenUnconfigured(t *testing.T) {
	u, _ := newTestUnit(t)

	for i := 0; i < 100; i++ {
		assert.True(t, u.checkTriggerLimit())
	}
}

func TestTriggerLimitBurst(t *testing.T) {
	u, loop := newTestUnit(t)
	u.cfg.TriggerLimitIntervalUsec = int64(time.Second / time.Microsecond)
	u.cfg.TriggerLimitBurst = 2

	loop.now = 0
	assert.True(t, u.checkTriggerLimit())
	loop.now = 1
	assert.True(t, u.checkTriggerLimit())
	loop.now = 2
	assert.False(t, u.checkTriggerLimit())
}

func TestTriggerLimitResetsAfterInterval(t *testing.T) {
	u, loop := newTestUnit(t)
	u.cfg.TriggerLimitIntervalUsec = 1000
	u.cfg.TriggerLimitBurst = 1

	loop.now = 0
	assert.True(t, u.checkTriggerLimit())
	loop.now = 1
	assert.False(t, u.checkTriggerLimit())

	loop.now = 2000
	assert.True(t, u.checkTriggerLimit())
}

func TestTriggerNotifySharedReturnsToListening(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateRunning

	u.TriggerNotify(ResultSuccess)

	assert.Equal(t, StateListening, u.State())
}

func TestTriggerNotifyFailurePermanentlyMarksResult(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateRunning

	u.TriggerNotify(ResultExitCode)

	assert.Equal(t, ResultServiceFailedPermanent, u.Result())
}

func TestTriggerNotifyAcceptReleasesConnectionInstead(t *testing.T) {
	u, _ := newTestUnit(t)
	u.cfg.Accept = true
	u.state = StateListening
	u.nConnections = 3

	u.TriggerNotify(ResultSuccess)

	assert.Equal(t, 2, u.nConnections)
	assert.Equal(t, StateListening, u.State())
}

func TestKillToleratesNoControlPid(t *testing.T) {
	u, _ := newTestUnit(t)

	assert.NoError(t, u.Kill("control", 15))
}

type stubService struct {
	id string
}

func (s *stubService) ID() string { return s.id }
func (s *stubService) SetSocketFd(cfd *os.File, backref *SocketUnit) error {
	return nil
}
func (s *stubService) EnqueueStart() error { return nil }
func (s *stubService) State() string       { return "dead" }
func (s *stubService) LoadState() string   { return "loaded" }
func (s *stubService) IsSysv() bool        { return false }
func (s *stubService) Result() Result      { return ResultSuccess }
