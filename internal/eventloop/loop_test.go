package eventloop

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DankBSD/InitWare/internal/server/socketunit"
	"github.com/DankBSD/InitWare/shared/logger"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()

	l, err := New(logger.NewForTesting())
	require.NoError(t, err)

	go l.Run()
	t.Cleanup(l.Stop)

	return l
}

func TestWatchReadableFiresOnWrite(t *testing.T) {
	l := newTestLoop(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	fired := make(chan int, 1)

	_, err = l.WatchReadable(int(r.Fd()), func(revents int) {
		fired <- revents
	})
	require.NoError(t, err)

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readiness callback")
	}
}

func TestUnwatchStopsDelivering(t *testing.T) {
	l := newTestLoop(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	fired := make(chan int, 4)

	watch, err := l.WatchReadable(int(r.Fd()), func(revents int) {
		fired <- revents
	})
	require.NoError(t, err)

	l.Unwatch(watch)

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	select {
	case <-fired:
		t.Fatal("callback fired after Unwatch")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestArmTimerFires(t *testing.T) {
	l := newTestLoop(t)

	fired := make(chan struct{}, 1)
	l.ArmTimer(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timer")
	}
}

func TestDisarmTimerPreventsFiring(t *testing.T) {
	l := newTestLoop(t)

	fired := make(chan struct{}, 1)
	watch := l.ArmTimer(50*time.Millisecond, func() { close(fired) })
	l.DisarmTimer(watch)

	select {
	case <-fired:
		t.Fatal("disarmed timer fired")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchChildReapsExitStatus(t *testing.T) {
	l := newTestLoop(t)

	// sleep briefly before exiting so WatchChild is guaranteed to be
	// registered before the loop's own wait4() could reap it first.
	cmd := exec.Command("/bin/sleep", "0.2")
	require.NoError(t, cmd.Start())

	type result struct {
		code    int
		outcome socketunit.ChildOutcome
	}

	done := make(chan result, 1)
	l.WatchChild(cmd.Process.Pid, func(code int, outcome socketunit.ChildOutcome) {
		done <- result{code, outcome}
	})

	select {
	case r := <-done:
		require.Equal(t, socketunit.OutcomeSuccess, r.outcome)
		require.Equal(t, 0, r.code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for child reap")
	}

	cmd.Process.Release()
}
