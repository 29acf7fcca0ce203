package socketunit

import (
	"golang.org/x/sys/unix"

	"github.com/vishvananda/netlink"

	ilinux "github.com/DankBSD/InitWare/internal/linux"
)

// bindToDevice resolves the interface name with vishvananda/netlink first
// (so a typo produces "no such interface" instead of an opaque ENODEV from
// setsockopt) and then applies SO_BINDTODEVICE.
func bindToDevice(fd int, device string) error {
	if _, err := netlink.LinkByName(device); err != nil {
		return err
	}

	return unix.SetsockoptString(fd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, device)
}

// applySocketOptions implements OptionApplier.applySocket (spec.md §4.3).
// Every option is independent and failures are warnings, never fatal —
// each branch is applied unconditionally of the others' success.
func (u *SocketUnit) applySocketOptions(fd int) {
	c := &u.cfg

	if c.KeepAlive {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			u.warn("failed to set SO_KEEPALIVE: %v", err)
		}
	}

	if c.Broadcast {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
			u.warn("failed to set SO_BROADCAST: %v", err)
		}
	}

	if c.PassCredentials {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1); err != nil {
			u.warn("failed to set SO_PASSCRED: %v", err)
		}
	}

	if c.PassSecurity {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PASSSEC, 1); err != nil {
			u.warn("failed to set SO_PASSSEC: %v", err)
		}
	}

	if c.Priority >= 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, c.Priority); err != nil {
			u.warn("failed to set SO_PRIORITY: %v", err)
		}
	}

	if c.ReceiveBuffer > 0 {
		err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, c.ReceiveBuffer)
		if err != nil {
			err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, c.ReceiveBuffer)
		}

		if err != nil {
			u.warn("failed to set receive buffer size: %v", err)
		}
	}

	if c.SendBuffer > 0 {
		err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUFFORCE, c.SendBuffer)
		if err != nil {
			err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, c.SendBuffer)
		}

		if err != nil {
			u.warn("failed to set send buffer size: %v", err)
		}
	}

	if c.Mark > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_MARK, c.Mark); err != nil {
			u.warn("failed to set SO_MARK: %v", err)
		}
	}

	if c.IPTOS > 0 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, c.IPTOS); err != nil {
			u.warn("failed to set IP_TOS: %v", err)
		}
	}

	if c.IPTTL > 0 {
		err4 := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, c.IPTTL)
		err6 := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, c.IPTTL)

		if err4 != nil && err6 != nil {
			u.warn("failed to set IP_TTL/IPV6_UNICAST_HOPS: %v / %v", err4, err6)
		}
	}

	if c.TCPCongestion != "" {
		// TCP_CONGESTION expects a NUL-terminated string.
		val := c.TCPCongestion + "\x00"
		if err := unix.SetsockoptString(fd, unix.IPPROTO_TCP, unix.TCP_CONGESTION, val); err != nil {
			u.warn("failed to set TCP_CONGESTION=%s: %v", c.TCPCongestion, err)
		}
	}

	if c.PipeSize > 0 {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, c.PipeSize); err != nil {
			u.warn("failed to set pipe/socket buffer size via F_SETPIPE_SZ: %v", err)
		}
	}

	if c.SmackLabelIPIn != "" {
		if err := ilinux.SetSmackLabelFd(fd, ilinux.XattrSmackIPIn, c.SmackLabelIPIn); err != nil {
			u.warn("failed to set SMACK64IPIN: %v", err)
		}
	}

	if c.SmackLabelIPOut != "" {
		if err := ilinux.SetSmackLabelFd(fd, ilinux.XattrSmackIPOut, c.SmackLabelIPOut); err != nil {
			u.warn("failed to set SMACK64IPOUT: %v", err)
		}
	}
}

// applyFifoOptions implements OptionApplier.applyFifo (spec.md §4.3).
func (u *SocketUnit) applyFifoOptions(fd int) {
	if u.cfg.PipeSize > 0 {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, u.cfg.PipeSize); err != nil {
			u.warn("failed to set FIFO pipe size: %v", err)
		}
	}

	if u.cfg.SmackLabel != "" {
		if err := ilinux.SetSmackLabelFd(fd, ilinux.XattrSmack, u.cfg.SmackLabel); err != nil {
			u.warn("failed to set SMACK64 on fifo: %v", err)
		}
	}
}
