package socketunit

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	ilinux "github.com/DankBSD/InitWare/internal/linux"
)

// netlinkFamilies maps the textual ListenNetlink family name to its
// numeric protocol, per the subset of families the kernel exposes to
// userspace sockets.
var netlinkFamilies = map[string]int{
	"route":          unix.NETLINK_ROUTE,
	"usersock":       unix.NETLINK_USERSOCK,
	"firewall":       unix.NETLINK_FIREWALL,
	"sock-diag":      unix.NETLINK_SOCK_DIAG,
	"nflog":          unix.NETLINK_NFLOG,
	"xfrm":           unix.NETLINK_XFRM,
	"selinux":        unix.NETLINK_SELINUX,
	"audit":          unix.NETLINK_AUDIT,
	"fib-lookup":     unix.NETLINK_FIB_LOOKUP,
	"netfilter":      unix.NETLINK_NETFILTER,
	"generic":        unix.NETLINK_GENERIC,
	"kobject-uevent": unix.NETLINK_KOBJECT_UEVENT,
	"crypto":         unix.NETLINK_CRYPTO,
}

// ResolveNetlinkFamily turns a manifest ListenNetlink family name into its
// numeric protocol, for use by a ManifestLoader when building a
// SocketAddress{Family: unix.AF_NETLINK}.
func ResolveNetlinkFamily(name string) (int, error) {
	proto, ok := netlinkFamilies[name]
	if !ok {
		return 0, fmt.Errorf("unknown netlink family %q", name)
	}

	return proto, nil
}

// openSocketPort implements spec.md §4.2's Socket case: resolve label,
// socket(), apply pre-bind options, bind, listen (stream/seqpacket only),
// then OptionApplier.applySocket.
func (u *SocketUnit) openSocketPort(p *Port) error {
	sa, ok := p.Address.(SocketAddress)
	if !ok {
		return fmt.Errorf("port kind socket with non-socket address")
	}

	label, err := u.resolveSocketLabel()
	if err != nil {
		return err
	}

	fd, err := unix.Socket(sa.Family, sa.Type|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, rawProtocol(sa))
	if err != nil {
		return fmt.Errorf("socket(%d, %d): %w", sa.Family, sa.Type, err)
	}

	// Close fd on any error below; success replaces this with setFile.
	closeFd := true
	defer func() {
		if closeFd {
			_ = unix.Close(fd)
		}
	}()

	if label != "" {
		if err := ilinux.SetSmackLabelFd(fd, ilinux.XattrSmack, label); err != nil {
			u.warn("failed to set creation label on socket: %v", err)
		}
	}

	if u.cfg.FreeBind && (sa.Family == unix.AF_INET || sa.Family == unix.AF_INET6) {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_FREEBIND, 1); err != nil {
			u.warn("failed to set IP_FREEBIND: %v", err)
		}
	}

	if u.cfg.Transparent {
		if err := unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_TRANSPARENT, 1); err != nil {
			u.warn("failed to set IP_TRANSPARENT: %v", err)
		}
	}

	if sa.Family == unix.AF_INET6 {
		v6only := 0
		if u.cfg.BindIPv6Only {
			v6only = 1
		}

		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, v6only); err != nil {
			u.warn("failed to set IPV6_V6ONLY: %v", err)
		}
	}

	if u.cfg.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			u.warn("failed to set SO_REUSEPORT: %v", err)
		}
	}

	if u.cfg.BindToDevice != "" {
		if err := bindToDevice(fd, u.cfg.BindToDevice); err != nil {
			u.warn("failed to bind to device %q: %v", u.cfg.BindToDevice, err)
		}
	}

	addr, err := toSockaddr(sa)
	if err != nil {
		return err
	}

	if err := unix.Bind(fd, addr); err != nil {
		return fmt.Errorf("bind: %w", err)
	}

	if sa.Type == unix.SOCK_STREAM || sa.Type == unix.SOCK_SEQPACKET {
		if err := unix.Listen(fd, u.cfg.Backlog); err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	f := os.NewFile(uintptr(fd), p.Key())
	p.setFile(f)
	closeFd = false

	u.applySocketOptions(p.Fd)

	return nil
}

// resolveSocketLabel implements the "resolve the SELinux/SMACK creation
// label from the companion service's ExecStart executable path" step.
// EPERM is best-effort (ignored); anything else propagates.
func (u *SocketUnit) resolveSocketLabel() (string, error) {
	if u.security == nil {
		return "", nil
	}

	execPath := u.companionExecStartPath()
	if execPath == "" {
		return "", nil
	}

	label, err := u.security.LabelFromExecutablePath(execPath)
	if err != nil {
		if errno, ok := ilinux.GetErrno(err); ok && errno == unix.EPERM {
			return "", nil
		}

		return "", err
	}

	return label, nil
}

// companionExecStartPath always returns "", which resolveSocketLabel
// treats as "skip labeling": the companion service's ExecStart path is
// not looked up, so no socket label is ever resolved from it.
func (u *SocketUnit) companionExecStartPath() string {
	// The ServiceUnit interface doesn't expose ExecStart — that belongs
	// entirely to the out-of-scope service state machine.
	return ""
}

func rawProtocol(sa SocketAddress) int {
	if sa.Family == unix.AF_NETLINK {
		return sa.NetlinkProtocol
	}

	return 0
}

// toSockaddr converts a SocketAddress into the concrete unix.Sockaddr bind
// needs.
func toSockaddr(sa SocketAddress) (unix.Sockaddr, error) {
	switch sa.Family {
	case unix.AF_UNIX:
		return &unix.SockaddrUnix{Name: sa.Path}, nil
	case unix.AF_INET:
		ip := net.ParseIP(sa.IP)
		if ip == nil {
			return nil, fmt.Errorf("invalid IPv4 address %q", sa.IP)
		}

		var addr [4]byte
		copy(addr[:], ip.To4())

		return &unix.SockaddrInet4{Port: sa.Port, Addr: addr}, nil
	case unix.AF_INET6:
		ip := net.ParseIP(sa.IP)
		if ip == nil {
			return nil, fmt.Errorf("invalid IPv6 address %q", sa.IP)
		}

		var addr [16]byte
		copy(addr[:], ip.To16())

		return &unix.SockaddrInet6{Port: sa.Port, Addr: addr}, nil
	case unix.AF_NETLINK:
		return &unix.SockaddrNetlink{Family: unix.AF_NETLINK}, nil
	default:
		return nil, fmt.Errorf("unsupported socket family %d", sa.Family)
	}
}

// formatHostPort renders family-appropriate "host:port" text via
// net.JoinHostPort.
func formatHostPort(ip string, port int) string {
	return net.JoinHostPort(ip, strconv.Itoa(port))
}
