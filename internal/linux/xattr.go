package linux

import (
	"os"
	"runtime"

	"github.com/pkg/xattr"
)

// SMACK extended attribute names, applied to sockets and FIFOs when the
// manifest configures a security label (spec: SmackLabel, SmackLabelIPIn,
// SmackLabelIPOut).
const (
	XattrSmack      = "security.SMACK64"
	XattrSmackIPIn  = "security.SMACK64IPIN"
	XattrSmackIPOut = "security.SMACK64IPOUT"
)

// SetSmackLabel sets a SMACK security xattr on the file at path. Every
// error from the xattr package, a missing path and absent SMACK support
// alike, is returned unchanged; treating it as a warning rather than a
// fatal error is the caller's concern.
func SetSmackLabel(path, name, label string) error {
	if label == "" {
		return nil
	}

	return xattr.Set(path, name, []byte(label))
}

// SetSmackLabelFd is the fd-based variant, used once a socket or FIFO is
// already open and before anything might race on the path.
func SetSmackLabelFd(fd int, name, label string) error {
	if label == "" {
		return nil
	}

	f := os.NewFile(uintptr(fd), "socket")
	// f merely borrows fd; detach the GC finalizer so dropping this local
	// variable never closes a descriptor some Port still owns.
	runtime.SetFinalizer(f, nil)

	return xattr.FSet(f, name, []byte(label))
}
