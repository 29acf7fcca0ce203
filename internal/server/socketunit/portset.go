package socketunit

import (
	"fmt"

	"github.com/DankBSD/InitWare/shared/revert"
)

// openPorts implements spec.md §4.2's open(): it opens every not-yet-open
// port in order, rolling back (closing) everything opened in this call if
// any index fails, via the teacher's Reverter pattern
// (_examples/lxc-incus/shared/revert).
func (u *SocketUnit) openPorts() error {
	reverter := revert.New()
	defer reverter.Fail()

	for _, p := range u.ports {
		if p.Open() {
			continue
		}

		var err error

		switch p.Kind {
		case KindSocket:
			err = u.openSocketPort(p)
		case KindFifo:
			err = u.openFifoPort(p)
		case KindSpecial:
			err = u.openSpecialPort(p)
		case KindMessageQueue:
			err = u.openMessageQueuePort(p)
		default:
			err = fmt.Errorf("unknown port kind %v", p.Kind)
		}

		if err != nil {
			return fmt.Errorf("open port %s: %w", p.Key(), err)
		}

		port := p
		reverter.Add(func() { _ = port.closeFile() })
	}

	reverter.Success()

	return nil
}

// closeAllPorts implements spec.md §4.2's close(): unwatches and closes every
// port's descriptor, but never unlinks the filesystem/mqueue node — reuse
// across restarts depends on the node staying present.
func (u *SocketUnit) closeAllPorts() {
	for _, p := range u.ports {
		u.unwatchPort(p)
		_ = p.closeFile()
	}
}

// watchPorts implements spec.md §4.2's watch(): arms every open port for
// EV_READ.
func (u *SocketUnit) watchPorts() {
	for _, p := range u.ports {
		u.watchPort(p)
	}
}

// watchPort arms a single port, if open and not already watched.
func (u *SocketUnit) watchPort(p *Port) {
	if !p.Open() || p.watch != nil || u.loop == nil {
		return
	}

	port := p

	w, err := u.loop.WatchReadable(p.Fd, func(revents int) {
		u.onFdReady(port, revents)
	})
	if err != nil {
		u.warn("failed to watch port %s: %v", p.Key(), err)
		return
	}

	p.watch = w
}

// unwatchPort implements spec.md §4.2's unwatch() for a single port.
func (u *SocketUnit) unwatchPort(p *Port) {
	if p.watch == nil {
		return
	}

	if u.loop != nil {
		u.loop.Unwatch(p.watch)
	}

	p.watch = nil
}

// suspendReadiness unwatches every port without closing descriptors —
// used whenever the unit leaves Listening but may still own open fds
// (e.g. Running, in shared-descriptor mode, where the companion service
// owns acceptance).
func (u *SocketUnit) suspendReadiness() {
	for _, p := range u.ports {
		u.unwatchPort(p)
	}
}

// collectFds returns every currently open port (not the bare descriptors), used by
// serialize() to hand descriptors into the external FdBag ahead of a
// controlled re-exec (spec.md §4.2's collectFds()).
func (u *SocketUnit) collectFds() []*Port {
	open := make([]*Port, 0, len(u.ports))

	for _, p := range u.ports {
		if p.Open() {
			open = append(open, p)
		}
	}

	return open
}
