package socketunit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

// fakeCgroups stands in for a unit whose process group is still alive
// without ever sending a real signal anywhere: Realize/KillAll just
// record that they were asked, matching nothing this package can't
// already predict from controlPid alone.
type fakeCgroups struct {
	killed []int
}

func (f *fakeCgroups) Realize(unitID string) (any, error) { return "handle", nil }
func (f *fakeCgroups) KillAll(handle any, signo int) error {
	f.killed = append(f.killed, signo)
	return nil
}
func (f *fakeCgroups) Release(handle any) error { return nil }

func newTestUnitWithCgroups(t *testing.T) (*SocketUnit, *fakeCgroups) {
	t.Helper()

	cg := &fakeCgroups{}
	u := NewUnit("test.socket", Deps{Loop: &fakeLoop{}, Spawner: fakeSpawner{}, Cgroups: cg})

	return u, cg
}

func TestOnStartPreDoneFailureEntersFailedWithoutStopPost(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateStartPre
	u.result = ResultExitCode

	u.onStartPreDone()

	assert.Equal(t, StateFailed, u.State())
}

func TestOnStartPreDoneFailureWithLiveControlGroupEntersFinalSigterm(t *testing.T) {
	u, cg := newTestUnitWithCgroups(t)
	u.state = StateStartPre
	u.result = ResultExitCode

	u.onStartPreDone()

	assert.Equal(t, StateFinalSigterm, u.State())
	assert.Equal(t, []int{int(unix.SIGTERM)}, cg.killed)
}

func TestOnStartChownDoneFailureRoutesToStopPreNotStopPost(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateStartChown
	u.result = ResultExitCode
	u.commands[PhaseStopPre] = []*ExecStep{{Path: "/bin/true"}}
	u.ports = []*Port{{Kind: KindFifo, Fd: -1, Address: PathAddress{Path: "/run/test.fifo"}}}

	u.onStartChownDone()

	assert.Equal(t, StateStopPre, u.State())
}

func TestOnStartPostDoneFailureRoutesToStopPreNotStopPost(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateStartPost
	u.result = ResultExitCode
	u.commands[PhaseStopPre] = []*ExecStep{{Path: "/bin/true"}}
	u.ports = []*Port{{Kind: KindFifo, Fd: -1, Address: PathAddress{Path: "/run/test.fifo"}}}

	u.onStartPostDone()

	assert.Equal(t, StateStopPre, u.State())
}

func TestOnStopPreDoneRoutesDirectlyToStopPostOnSuccess(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateStopPre
	u.result = ResultSuccess

	u.onStopPreDone()

	// No ExecStopPost configured and nothing left to kill: the no-hook
	// shortcut carries straight through to Dead without an extra
	// StopPreSigterm sweep.
	assert.Equal(t, StateDead, u.State())
}

func TestOnStopPreDoneRoutesDirectlyToStopPostOnFailure(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateStopPre
	u.result = ResultExitCode

	u.onStopPreDone()

	assert.Equal(t, StateFailed, u.State())
}

func TestOnStopPreDoneWithStopPostHookEntersStopPost(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateStopPre
	u.result = ResultSuccess
	u.commands[PhaseStopPost] = []*ExecStep{{Path: "/bin/true"}}

	u.onStopPreDone()

	assert.Equal(t, StateStopPost, u.State())
}

func TestOnStopPostDoneIgnoresKillModeControlGroupWithoutCgroups(t *testing.T) {
	u, _ := newTestUnit(t)
	u.cfg.KillModeControlGroup = true
	u.state = StateStopPost
	u.result = ResultSuccess

	u.onStopPostDone()

	assert.Equal(t, StateDead, u.State())
}

func TestOnTimerStartPreEntersFinalSigtermNotStopPost(t *testing.T) {
	u, _ := newTestUnitWithCgroups(t)
	u.state = StateStartPre

	u.onTimer()

	assert.Equal(t, StateFinalSigterm, u.State())
	assert.Equal(t, ResultTimeout, u.Result())
}

func TestOnTimerStartChownEntersStopPre(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateStartChown
	u.commands[PhaseStopPre] = []*ExecStep{{Path: "/bin/true"}}
	u.ports = []*Port{{Kind: KindFifo, Fd: -1, Address: PathAddress{Path: "/run/test.fifo"}}}

	u.onTimer()

	assert.Equal(t, StateStopPre, u.State())
}

func TestOnTimerStartPostEntersStopPre(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateStartPost
	u.commands[PhaseStopPre] = []*ExecStep{{Path: "/bin/true"}}
	u.ports = []*Port{{Kind: KindFifo, Fd: -1, Address: PathAddress{Path: "/run/test.fifo"}}}

	u.onTimer()

	assert.Equal(t, StateStopPre, u.State())
}

func TestOnTimerStopPostEntersFinalSigterm(t *testing.T) {
	u, cg := newTestUnitWithCgroups(t)
	u.state = StateStopPost

	u.onTimer()

	assert.Equal(t, StateFinalSigterm, u.State())
	assert.Equal(t, []int{int(unix.SIGTERM)}, cg.killed)
}

func TestOnTimerStopPreSigtermSkipsSigkillWhenDisabled(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateStopPreSigterm
	u.cfg.SendSigkill = false

	u.onTimer()

	// Nothing left alive to kill and SendSigkill=false: straight through
	// enterStopPost's no-hook shortcut to a terminal state, never
	// visiting StopPreSigkill.
	assert.Equal(t, StateFailed, u.State())
}

func TestOnTimerStopPreSigtermEscalatesToSigkillWhenEnabled(t *testing.T) {
	u, cg := newTestUnitWithCgroups(t)
	u.state = StateStopPreSigterm
	u.cfg.SendSigkill = true

	u.onTimer()

	assert.Equal(t, StateStopPreSigkill, u.State())
	assert.Equal(t, []int{int(unix.SIGKILL)}, cg.killed)
}

func TestOnTimerFinalSigtermSkipsSigkillWhenDisabled(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateFinalSigterm
	u.cfg.SendSigkill = false

	u.onTimer()

	assert.Equal(t, StateFailed, u.State())
}

func TestOnTimerFinalSigtermEscalatesToSigkillWhenEnabled(t *testing.T) {
	u, cg := newTestUnitWithCgroups(t)
	u.state = StateFinalSigterm
	u.cfg.SendSigkill = true

	u.onTimer()

	assert.Equal(t, StateFinalSigkill, u.State())
	assert.Equal(t, []int{int(unix.SIGKILL)}, cg.killed)
}

func TestOnTimerFinalSigkillEntersDeadOrFailed(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateFinalSigkill
	u.result = ResultSuccess

	u.onTimer()

	assert.Equal(t, StateFailed, u.State())
}

// newUnixListenerPort binds and listens on a fresh UNIX socket, returning
// a *Port wired the way openSocketPort leaves one (SOCK_NONBLOCK,
// Fd/file set) so dispatch tests can drive accept4 on it directly.
func newUnixListenerPort(t *testing.T) *Port {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sock")

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}

	t.Cleanup(func() { _ = unix.Close(fd) })

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if err := unix.Listen(fd, 16); err != nil {
		t.Fatalf("listen: %v", err)
	}

	p := &Port{Kind: KindSocket, Address: SocketAddress{Family: unix.AF_UNIX, Type: unix.SOCK_STREAM}}
	p.setFile(os.NewFile(uintptr(fd), path))

	dialFd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socket (dial): %v", err)
	}

	t.Cleanup(func() { _ = unix.Close(dialFd) })

	if err := unix.Connect(dialFd, &unix.SockaddrUnix{Name: path}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	return p
}

func TestOnFdReadyDrainsStrayConnectionWhenFlushPending(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateStopPre
	u.flushPending = true

	p := newUnixListenerPort(t)

	u.onFdReady(p, 0)

	_, _, err := unix.Accept4(p.Fd, unix.SOCK_NONBLOCK)
	assert.Equal(t, unix.EAGAIN, err)
}

func TestOnFdReadyLeavesConnectionPendingWithoutFlushPending(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateStopPre
	u.flushPending = false

	p := newUnixListenerPort(t)

	u.onFdReady(p, 0)

	cfd, _, err := unix.Accept4(p.Fd, unix.SOCK_NONBLOCK)
	assert.NoError(t, err)
	if err == nil {
		_ = unix.Close(cfd)
	}
}

func TestDispatchAcceptIgnoresENOTCONN(t *testing.T) {
	u, _ := newTestUnit(t)
	u.state = StateListening
	u.cfg.Accept = true
	u.cfg.MaxConnections = 64

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socket: %v", err)
	}
	t.Cleanup(func() { _ = unix.Close(fd) })

	// Never bound/listened: accept4 on it returns ENOTCONN, the peer-RST
	// case this path must drop silently rather than warn about.
	p := &Port{Kind: KindSocket, Fd: fd, Address: SocketAddress{Family: unix.AF_UNIX, Type: unix.SOCK_STREAM}}

	u.dispatchAccept(p)

	assert.Empty(t, u.Warnings())
}
