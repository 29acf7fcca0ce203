package socketunit

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Kind is the endpoint kind a Port opens (spec.md §3).
type Kind int

const (
	KindSocket Kind = iota
	KindFifo
	KindSpecial
	KindMessageQueue
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "socket"
	case KindFifo:
		return "fifo"
	case KindSpecial:
		return "special"
	case KindMessageQueue:
		return "mqueue"
	default:
		return "unknown"
	}
}

// Address is implemented by SocketAddress and PathAddress. Key returns a
// deterministic structural identity used both by StateSerializer's fd-bag
// matching and by the textual snapshot format.
type Address interface {
	Key() string
}

// SocketAddress describes a Socket-kind Port's family/type/sockaddr union.
// AF_NETLINK addresses are represented here too (spec.md §3 treats netlink
// as a socket family, not a distinct Kind); NetlinkProtocol is only
// meaningful when Family == unix.AF_NETLINK.
type SocketAddress struct {
	Family          int
	Type            int
	IP              string // dotted/colon textual form for AF_INET/AF_INET6; "" for AF_UNIX/AF_NETLINK
	Port            int    // AF_INET/AF_INET6 only
	Path            string // AF_UNIX only ("" for an autobind abstract socket, "@name" for abstract)
	NetlinkFamily   string // textual family name as given in the manifest (e.g. "route"), AF_NETLINK only
	NetlinkProtocol int    // resolved numeric protocol, AF_NETLINK only
}

// Key implements Address.
func (a SocketAddress) Key() string {
	switch a.Family {
	case unix.AF_UNIX:
		return fmt.Sprintf("socket|unix|%d|%s", a.Type, a.Path)
	case unix.AF_NETLINK:
		return fmt.Sprintf("socket|netlink|%d|%s", a.Type, a.NetlinkFamily)
	default:
		return fmt.Sprintf("socket|inet|%d|%d|%s|%d", a.Family, a.Type, a.IP, a.Port)
	}
}

// Acceptable reports whether a Socket with this address can be accept()ed
// on, per spec.md invariant 5.
func (a SocketAddress) Acceptable() bool {
	return a.Type == unix.SOCK_STREAM || a.Type == unix.SOCK_SEQPACKET
}

// PathAddress describes a Fifo/Special/MessageQueue Port's filesystem (or
// mqueue namespace) path.
type PathAddress struct {
	Path string
}

// Key implements Address.
func (a PathAddress) Key() string {
	return fmt.Sprintf("path|%s", a.Path)
}

// Watch is an opaque registration handle returned by EventLoop.Watch. Its
// only use from SocketUnit's side is to hand back to EventLoop.Unwatch.
type Watch any

// Port is one endpoint owned by a SocketUnit (spec.md §3).
type Port struct {
	Kind    Kind
	Address Address

	// Fd is -1 when the port isn't open. Once open, file owns the
	// descriptor; Fd mirrors file.Fd() for convenience/serialization.
	Fd   int
	file *os.File

	watch Watch
}

// Open reports whether the port currently owns a live descriptor.
func (p *Port) Open() bool {
	return p.Fd >= 0
}

// File returns the underlying *os.File, or nil if not open.
func (p *Port) File() *os.File {
	return p.file
}

// setFile records an opened descriptor, taking ownership of f.
func (p *Port) setFile(f *os.File) {
	p.file = f
	if f != nil {
		p.Fd = int(f.Fd())
	} else {
		p.Fd = -1
	}
}

// closeFile closes and clears the descriptor, if any. It never touches the
// filesystem/mqueue node the descriptor refers to (spec.md §4.2 close()).
func (p *Port) closeFile() error {
	if p.file == nil {
		return nil
	}

	err := p.file.Close()
	p.file = nil
	p.Fd = -1

	return err
}

// Acceptable reports whether this Port can be accept()ed on — only
// meaningful for Kind == KindSocket, per spec.md invariant 5.
func (p *Port) Acceptable() bool {
	sa, ok := p.Address.(SocketAddress)
	return ok && sa.Acceptable()
}

// Key returns the structural identity used for fd-bag matching.
func (p *Port) Key() string {
	return fmt.Sprintf("%s:%s", p.Kind, p.Address.Key())
}

// ExecPhase names a point in the lifecycle where hook processes run.
// StartChown never has a manifest-configured ExecStep list — runStartChown
// calls fchown on each open port directly, with no child process — but is
// still a phase for the purposes
// of controlCommandId tracking and serialization (spec.md §4.1, §9).
type ExecPhase int

const (
	PhaseStartPre ExecPhase = iota
	PhaseStartChown
	PhaseStartPost
	PhaseStopPre
	PhaseStopPost
)

// String implements fmt.Stringer.
func (p ExecPhase) String() string {
	switch p {
	case PhaseStartPre:
		return "StartPre"
	case PhaseStartChown:
		return "StartChown"
	case PhaseStartPost:
		return "StartPost"
	case PhaseStopPre:
		return "StopPre"
	case PhaseStopPost:
		return "StopPost"
	default:
		return "Unknown"
	}
}

// ExecStep is one command in a phase's linked continuation
// (spec.md §3 "command_next").
type ExecStep struct {
	Path   string
	Argv   []string
	Ignore bool // failure of this step never changes Result

	Next *ExecStep
}

// Name returns a stable per-step label — the step's own path, since steps
// within a phase aren't otherwise individually named.
func (e *ExecStep) Name() string {
	if e == nil {
		return ""
	}

	return e.Path
}
