package socketunit

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"
)

// onFdReady is ConnectionDispatcher's entry point (spec.md §4.4), wired up
// by watchPort. Outside Listening it either drains a stray readiness
// callback the event loop had already queued for this port before a stop
// unwatched it (flushPending, spec.md §4.1 per-connection step 2), or is
// a plain no-op.
func (u *SocketUnit) onFdReady(p *Port, revents int) {
	if u.state != StateListening {
		if u.flushPending {
			u.drainPort(p)
		}

		return
	}

	if p.Kind != KindSocket || !u.cfg.Accept {
		u.dispatchShared(p)
		return
	}

	u.dispatchAccept(p)
}

// drainPort discards a single stray connection that arrived for a port
// the unit has already started stopping, and re-asserts every listener
// is unwatched, rather than handing the connection to a fresh service
// instance.
func (u *SocketUnit) drainPort(p *Port) {
	u.suspendReadiness()

	if p.Kind != KindSocket || !p.Open() {
		return
	}

	cfd, _, err := unix.Accept4(p.Fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
	if err != nil {
		return
	}

	_ = unix.Close(cfd)
}

// dispatchShared implements the Accept=no branch: the socket itself (or
// fifo/special/mqueue node) is handed to the companion service without
// ever being accept()ed here.
func (u *SocketUnit) dispatchShared(p *Port) {
	if !u.checkTriggerLimit() {
		u.warn("trigger limit exceeded, entering failed state")
		u.result = ResultResources
		u.enterFailedDirect()

		return
	}

	u.enterRunning()

	if u.service == nil {
		return
	}

	if err := u.service.SetSocketFd(p.file, u); err != nil {
		u.warn("failed to hand off %s to companion service: %v", p.Key(), err)
		return
	}

	if err := u.service.EnqueueStart(); err != nil {
		u.warn("failed to start companion service: %v", err)
	}
}

// dispatchAccept implements the Accept=yes branch: accept4() with EINTR
// retried and EMFILE/ENFILE backed off, admission-controlled by
// MaxConnections, with one service instance spawned per accepted
// connection.
func (u *SocketUnit) dispatchAccept(p *Port) {
	if u.nConnections >= u.cfg.MaxConnections {
		u.refuseConnection(p)
		return
	}

	if !u.checkTriggerLimit() {
		u.warn("trigger limit exceeded, entering failed state")
		u.result = ResultResources
		u.enterFailedDirect()

		return
	}

	cfd, peer, err := acceptWithBackoff(p.Fd)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.ENOTCONN:
			// ENOTCONN means the peer already reset the connection
			// before we got to it; spec.md §4.1/§7 treat it the same
			// as no connection being ready at all.
			return
		}

		u.warn("accept on %s failed: %v", p.Key(), err)

		return
	}

	u.spawnAcceptedInstance(p, cfd, peer)
}

// acceptWithBackoff wraps accept4() the way the teacher's code retries
// transient syscall failures: Rican7/retry absorbs EINTR immediately,
// cenkalti/backoff/v4 paces retries across EMFILE/ENFILE so a momentary
// fd-table exhaustion doesn't spin the event loop.
func acceptWithBackoff(fd int) (int, unix.Sockaddr, error) {
	var (
		cfd  int
		peer unix.Sockaddr
	)

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 10 * time.Millisecond
	boff.MaxInterval = 100 * time.Millisecond

	var final error

	err := retry.Retry(func(attempt uint) error {
		c, sa, acceptErr := unix.Accept4(fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
		if acceptErr == nil {
			cfd, peer = c, sa
			return nil
		}

		if acceptErr == unix.EMFILE || acceptErr == unix.ENFILE {
			time.Sleep(boff.NextBackOff())
		} else if acceptErr != unix.EINTR {
			// Not transient: stop retrying and report it as is.
			final = acceptErr
			return nil
		}

		return acceptErr
	}, strategy.Limit(5))

	if final != nil {
		return cfd, peer, final
	}

	return cfd, peer, err
}

func (u *SocketUnit) refuseConnection(p *Port) {
	cfd, _, err := unix.Accept4(p.Fd, unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK)
	if err != nil {
		return
	}

	u.warn("refusing connection on %s: MaxConnections=%d reached", p.Key(), u.cfg.MaxConnections)
	_ = unix.Close(cfd)
}

// spawnAcceptedInstance builds the instance name, asks the
// ManifestLoader for the corresponding service instance, and hands the
// accepted descriptor to it — spec.md §4.4's per-connection path.
func (u *SocketUnit) spawnAcceptedInstance(p *Port, cfd int, peer unix.Sockaddr) {
	nr := u.nextAcceptedSeq()

	f := os.NewFile(uintptr(cfd), p.Key())

	sockAddr, _ := p.Address.(SocketAddress)

	name, err := u.instanceNameFor(sockAddr, nr, cfd, peer)
	if err != nil {
		u.warn("failed to format instance name for %s: %v", p.Key(), err)
		_ = f.Close()

		return
	}

	if u.manifest == nil || u.serviceTemplate == "" {
		_ = f.Close()
		return
	}

	prefix := u.manifest.UnitNameToPrefix(u.serviceTemplate)
	instanceID := u.manifest.UnitNameBuild(prefix, name, "service")

	svc, err := u.manifest.LoadUnit(instanceID)
	if err != nil {
		u.warn("failed to instantiate %s: %v", instanceID, err)
		_ = f.Close()

		return
	}

	if err := svc.SetSocketFd(f, u); err != nil {
		u.warn("failed to hand off connection to %s: %v", instanceID, err)
		_ = f.Close()

		return
	}

	if err := svc.EnqueueStart(); err != nil {
		u.warn("failed to start %s: %v", instanceID, err)
	}

	u.nConnections++
}

// instanceNameFor dispatches to the UNIX (SO_PEERCRED) or INET (address
// pair) branch of the instance formatter based on the listening port's
// own address family.
func (u *SocketUnit) instanceNameFor(sockAddr SocketAddress, nr uint64, cfd int, peer unix.Sockaddr) (string, error) {
	if sockAddr.Family == unix.AF_UNIX {
		return instanceStringUnix(nr, cfd)
	}

	local := &net.TCPAddr{IP: net.ParseIP(sockAddr.IP), Port: sockAddr.Port}

	var remote *net.TCPAddr

	switch a := peer.(type) {
	case *unix.SockaddrInet4:
		remote = &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	case *unix.SockaddrInet6:
		remote = &net.TCPAddr{IP: net.IP(a.Addr[:]), Port: a.Port}
	default:
		return "", fmt.Errorf("unsupported peer address type %T", peer)
	}

	return instanceString(nr, local, remote)
}

// releaseConnection implements spec.md §4.4's connection-close
// bookkeeping: called by the companion service (through TriggerNotify in
// the Accept=yes shape this engine uses) once an instance has finished.
func (u *SocketUnit) releaseConnection() {
	if u.nConnections > 0 {
		u.nConnections--
	}
}
