package socketunit

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// isV4Mapped reports whether ip is held in 16-byte form within ::ffff:0:0/96,
// the IPv4-in-IPv6 mapped address prefix.
func isV4Mapped(ip net.IP) bool {
	return ip.To4() != nil && len(ip) == net.IPv6len
}

// instanceString implements spec.md §4.1's per-connection instance
// formatter. local/remote are the accepted connection's endpoints; nr is
// nAccepted at the time of acceptance.
func instanceString(nr uint64, local, remote net.Addr) (string, error) {
	switch l := local.(type) {
	case *net.TCPAddr:
		r, ok := remote.(*net.TCPAddr)
		if !ok {
			return "", fmt.Errorf("mismatched local/remote address types")
		}

		if (l.IP.To4() != nil || isV4Mapped(l.IP)) && (r.IP.To4() != nil || isV4Mapped(r.IP)) {
			return fmt.Sprintf("%d-%s:%d-%s:%d", nr, l.IP.To4(), l.Port, r.IP.To4(), r.Port), nil
		}

		return fmt.Sprintf("%d-%s:%d-%s:%d", nr, l.IP, l.Port, r.IP, r.Port), nil
	case *net.UnixAddr:
		return "", fmt.Errorf("UNIX instance naming requires peer credentials, use instanceStringUnix")
	default:
		return "", fmt.Errorf("unsupported local address type %T", local)
	}
}

// instanceStringUnix implements the UNIX-socket branch of spec.md §4.1's
// instance formatter, using SO_PEERCRED.
func instanceStringUnix(nr uint64, fd int) (string, error) {
	cred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return "", fmt.Errorf("SO_PEERCRED: %w", err)
	}

	return fmt.Sprintf("%d-%d-%d", nr, cred.Pid, cred.Uid), nil
}
