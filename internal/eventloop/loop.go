// Package eventloop implements the single-threaded epoll/timer/SIGCHLD
// primitive socketunit.EventLoop describes: one goroutine blocks in
// epoll_wait, woken early by an eventfd whenever a timer is armed or
// SIGCHLD arrives, and every registered callback — readiness, timer
// expiry, child exit — runs back on that same goroutine. No unit-facing
// method is safe to call concurrently with Run; callers only ever reach
// this package from the goroutine Run is running on, through the
// callbacks it invokes.
package eventloop

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	ilinux "github.com/DankBSD/InitWare/internal/linux"
	"github.com/DankBSD/InitWare/internal/server/socketunit"
	"github.com/DankBSD/InitWare/shared/logger"
)

type readWatch struct {
	fd      int
	onReady func(revents int)
}

type timerWatch struct {
	id       uint64
	deadline time.Time
	onExpire func()
}

type childWatch struct {
	pid    int
	onExit func(code int, outcome socketunit.ChildOutcome)
}

// Loop is the concrete socketunit.EventLoop.
type Loop struct {
	log logger.Logger

	epfd   int
	wakeFd int

	reads   map[int]*readWatch
	timers  map[uint64]*timerWatch
	nextTid uint64
	children map[int]*childWatch

	sigchld chan os.Signal
	stop    chan struct{}
}

// New creates the epoll instance and the eventfd used to wake it early.
func New(log logger.Logger) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFd)}); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll_ctl(wakeFd): %w", err)
	}

	return &Loop{
		log:      log,
		epfd:     epfd,
		wakeFd:   wakeFd,
		reads:    make(map[int]*readWatch),
		timers:   make(map[uint64]*timerWatch),
		children: make(map[int]*childWatch),
		sigchld:  make(chan os.Signal, 1),
		stop:     make(chan struct{}),
	}, nil
}

// Run blocks, driving the loop until Stop is called. Callers typically
// run this in its own goroutine; every registered callback still fires on
// that goroutine, never concurrently with Run's own bookkeeping.
func (l *Loop) Run() {
	signal.Notify(l.sigchld, unix.SIGCHLD)
	defer signal.Stop(l.sigchld)

	go l.signalPump()

	events := make([]unix.EpollEvent, 64)

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		timeout := l.nextTimeoutMs()

		n, err := unix.EpollWait(l.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}

			l.log.Error("epoll_wait failed", logger.Ctx{"error": err.Error()})

			continue
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)

			if fd == l.wakeFd {
				var buf [8]byte
				_, _ = unix.Read(l.wakeFd, buf[:])

				continue
			}

			if w, ok := l.reads[fd]; ok {
				w.onReady(int(events[i].Events))
			}
		}

		l.fireExpiredTimers()
		l.reapChildren()
	}
}

// Stop unblocks Run and closes the epoll/eventfd descriptors. Not safe to
// call more than once.
func (l *Loop) Stop() {
	close(l.stop)
	l.wake()
	_ = unix.Close(l.wakeFd)
	_ = unix.Close(l.epfd)
}

func (l *Loop) signalPump() {
	for {
		select {
		case <-l.sigchld:
			l.wake()
		case <-l.stop:
			return
		}
	}
}

func (l *Loop) wake() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(l.wakeFd, buf[:])
}

// WatchReadable implements socketunit.EventLoop.
func (l *Loop) WatchReadable(fd int, onReady func(revents int)) (socketunit.Watch, error) {
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return nil, fmt.Errorf("epoll_ctl(add, %d): %w", fd, err)
	}

	l.reads[fd] = &readWatch{fd: fd, onReady: onReady}

	return fd, nil
}

// Unwatch implements socketunit.EventLoop.
func (l *Loop) Unwatch(w socketunit.Watch) {
	if w == nil {
		return
	}

	fd := w.(int)
	delete(l.reads, fd)
	_ = unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// ArmTimer implements socketunit.EventLoop.
func (l *Loop) ArmTimer(d time.Duration, onExpire func()) socketunit.Watch {
	l.nextTid++
	id := l.nextTid

	l.timers[id] = &timerWatch{id: id, deadline: time.Now().Add(d), onExpire: onExpire}
	l.wake()

	return id
}

// DisarmTimer implements socketunit.EventLoop.
func (l *Loop) DisarmTimer(w socketunit.Watch) {
	if w == nil {
		return
	}

	delete(l.timers, w.(uint64))
}

// WatchChild implements socketunit.EventLoop.
func (l *Loop) WatchChild(pid int, onExit func(code int, outcome socketunit.ChildOutcome)) socketunit.Watch {
	l.children[pid] = &childWatch{pid: pid, onExit: onExit}
	return pid
}

// UnwatchChild implements socketunit.EventLoop.
func (l *Loop) UnwatchChild(w socketunit.Watch) {
	if w == nil {
		return
	}

	delete(l.children, w.(int))
}

// Now implements socketunit.EventLoop, in microseconds off CLOCK_MONOTONIC.
func (l *Loop) Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return time.Now().UnixMicro()
	}

	return ts.Nano() / 1000
}

// nextTimeoutMs returns the epoll_wait timeout, in milliseconds, needed
// to wake no later than the earliest armed timer; -1 (block forever) when
// none are armed.
func (l *Loop) nextTimeoutMs() int {
	if len(l.timers) == 0 {
		return -1
	}

	deadlines := make([]time.Time, 0, len(l.timers))
	for _, t := range l.timers {
		deadlines = append(deadlines, t.deadline)
	}

	sort.Slice(deadlines, func(i, j int) bool { return deadlines[i].Before(deadlines[j]) })

	ms := int(time.Until(deadlines[0]).Milliseconds())
	if ms < 0 {
		return 0
	}

	return ms
}

func (l *Loop) fireExpiredTimers() {
	now := time.Now()

	var expired []*timerWatch

	for id, t := range l.timers {
		if !now.Before(t.deadline) {
			expired = append(expired, t)
			delete(l.timers, id)
		}
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].deadline.Before(expired[j].deadline) })

	for _, t := range expired {
		t.onExpire()
	}
}

// reapChildren drains every exited child with a non-blocking wait4() loop,
// matching pids against registered watches and ignoring unregistered
// ones (they belong to some other subsystem entirely, e.g. a spawned
// process this unit stopped tracking).
func (l *Loop) reapChildren() {
	for {
		var status unix.WaitStatus

		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		w, ok := l.children[pid]
		if !ok {
			continue
		}

		delete(l.children, pid)

		outcome, code := ilinux.ClassifyWaitStatus(status)
		w.onExit(code, socketunit.ChildOutcome(outcome))
	}
}
