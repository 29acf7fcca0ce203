package socketunit

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	ilinux "github.com/DankBSD/InitWare/internal/linux"
)

// mkdirParents creates every directory component of path (exclusive of the
// leaf itself) with mode, tolerating components that already exist.
func mkdirParents(path string, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "/" {
		return nil
	}

	return os.MkdirAll(dir, mode)
}

// openFifoPort implements spec.md §4.2's Fifo case.
func (u *SocketUnit) openFifoPort(p *Port) error {
	pa, ok := p.Address.(PathAddress)
	if !ok {
		return fmt.Errorf("port kind fifo with non-path address")
	}

	if err := mkdirParents(pa.Path, os.FileMode(u.cfg.DirectoryMode)); err != nil {
		return fmt.Errorf("mkdir parents: %w", err)
	}

	if u.cfg.SmackLabel != "" {
		if err := ilinux.SetSmackLabel(filepath.Dir(pa.Path), ilinux.XattrSmack, u.cfg.SmackLabel); err != nil {
			u.warn("failed to set SMACK creation context: %v", err)
		}
	}

	oldUmask := unix.Umask(0)
	err := unix.Mkfifo(pa.Path, u.cfg.SocketMode)
	unix.Umask(oldUmask)

	if err != nil && err != unix.EEXIST {
		return fmt.Errorf("mkfifo: %w", err)
	}

	fd, err := unix.Open(pa.Path, unix.O_RDWR|unix.O_CLOEXEC|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_NOFOLLOW, 0)
	if err != nil {
		return fmt.Errorf("open fifo: %w", err)
	}

	closeFd := true
	defer func() {
		if closeFd {
			_ = unix.Close(fd)
		}
	}()

	effectiveMode := u.cfg.SocketMode &^ uint32(oldUmask)

	if err := verifyOwnedNode(fd, unix.S_IFIFO, effectiveMode); err != nil {
		return err
	}

	f := os.NewFile(uintptr(fd), pa.Path)
	p.setFile(f)
	closeFd = false

	u.applyFifoOptions(p.Fd)

	return nil
}

// ErrFileConflict is returned when an existing filesystem node at a
// configured path doesn't match what this unit expects to own (wrong
// type, mode, or ownership) — spec.md §4.2's FileConflict.
var ErrFileConflict = fmt.Errorf("file conflict: existing node doesn't match expected type/mode/ownership")

// verifyOwnedNode checks that the open fd refers to a node of wantType
// (S_IFIFO from the FIFO opener; 0 skips the type check), with mode == wantMode and
// owned by the current uid/gid, per spec.md §4.2.
func verifyOwnedNode(fd int, wantType uint32, wantMode uint32) error {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return fmt.Errorf("fstat: %w", err)
	}

	if wantType != 0 && st.Mode&unix.S_IFMT != wantType {
		return ErrFileConflict
	}

	if wantMode != 0 && st.Mode&0o777 != wantMode {
		return ErrFileConflict
	}

	if st.Uid != uint32(os.Getuid()) || st.Gid != uint32(os.Getgid()) {
		return ErrFileConflict
	}

	return nil
}
