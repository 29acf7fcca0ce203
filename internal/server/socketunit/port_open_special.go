package socketunit

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// openSpecialPort implements spec.md §4.2's Special case: open an
// already-existing device/proc/sys node read-only, verifying it is a
// regular file or character device.
func (u *SocketUnit) openSpecialPort(p *Port) error {
	pa, ok := p.Address.(PathAddress)
	if !ok {
		return fmt.Errorf("port kind special with non-path address")
	}

	fd, err := unix.Open(pa.Path, unix.O_RDONLY|unix.O_CLOEXEC|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_NOFOLLOW, 0)
	if err != nil {
		return fmt.Errorf("open special: %w", err)
	}

	closeFd := true
	defer func() {
		if closeFd {
			_ = unix.Close(fd)
		}
	}()

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fmt.Errorf("fstat: %w", err)
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFCHR:
		// ok
	default:
		return ErrFileConflict
	}

	f := os.NewFile(uintptr(fd), pa.Path)
	p.setFile(f)
	closeFd = false

	return nil
}
