package linux

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ListenFDsStart is the number of the first file descriptor handed to a
// re-executed manager process, following the systemd socket-activation
// convention (the first descriptor after stdin/stdout/stderr).
const ListenFDsStart = 3

// envListenPID, envListenFDs and envListenFDNames mirror systemd's own
// socket-activation environment protocol, reused here for the manager's
// controlled self re-exec rather than for activation by an external
// supervisor. LISTEN_FDNAMES is systemd's own extension for tagging each
// handed-off descriptor with a name; this repo uses it to carry the
// structural key that StateSerializer recomputes on the other side of the
// re-exec, so descriptors are matched by what they are, not by fd number.
const (
	envListenPID      = "LISTEN_PID"
	envListenFDs      = "LISTEN_FDS"
	envListenFDNames  = "LISTEN_FDNAMES"
	fdNameSep         = ":"
)

// FdBag is the external descriptor pool StateSerializer hands descriptors
// through across a controlled re-execution. Every descriptor is tagged with
// the structural key its owning Port recomputes deterministically from its
// kind and address, so distributeFds never relies on fd numbering.
type FdBag struct {
	byKey map[string][]*os.File
}

// NewFdBag returns an empty bag, ready to Add entries to before Export.
func NewFdBag() *FdBag {
	return &FdBag{byKey: make(map[string][]*os.File)}
}

// Add inserts a descriptor under the given structural key. CLOEXEC is set,
// so the descriptor crosses an exec only as one of the files Export
// returns for ExtraFiles.
func (b *FdBag) Add(key string, f *os.File) {
	unix.CloseOnExec(int(f.Fd()))

	_ = unix.SetNonblock(int(f.Fd()), false) // the child re-establishes non-blocking semantics itself

	b.byKey[key] = append(b.byKey[key], f)
}

// Take removes and returns one descriptor previously stored under key, if
// any. The second return value reports whether a match was found.
func (b *FdBag) Take(key string) (*os.File, bool) {
	list := b.byKey[key]
	if len(list) == 0 {
		return nil, false
	}

	f := list[0]
	b.byKey[key] = list[1:]

	return f, true
}

// Remaining returns the keys of descriptors nobody claimed. Callers should
// close these — an unclaimed descriptor across a re-exec means the unit that
// owned it disappeared from the manifest.
func (b *FdBag) Remaining() map[string][]*os.File {
	out := make(map[string][]*os.File, len(b.byKey))
	for k, v := range b.byKey {
		if len(v) > 0 {
			out[k] = v
		}
	}

	return out
}

// Export sets LISTEN_PID/LISTEN_FDS/LISTEN_FDNAMES in env and returns the
// ordered list of files to pass as ExtraFiles (starting at ListenFDsStart)
// to the re-executed process.
func (b *FdBag) Export(env []string) ([]string, []*os.File) {
	var files []*os.File
	var names []string

	for key, list := range b.byKey {
		for _, f := range list {
			files = append(files, f)
			names = append(names, key)
		}
	}

	env = append(env, fmt.Sprintf("%s=%d", envListenPID, os.Getpid()))
	env = append(env, fmt.Sprintf("%s=%d", envListenFDs, len(files)))
	env = append(env, fmt.Sprintf("%s=%s", envListenFDNames, strings.Join(names, fdNameSep)))

	return env, files
}

// ImportFdBag reconstructs a FdBag from the calling process's own
// environment, as set up by a previous Export. It is the re-exec-side
// counterpart used during coldplug. It never assumes the descriptors are
// sockets — FIFOs, message queues and special files travel the same way.
func ImportFdBag() *FdBag {
	bag := NewFdBag()

	defer func() {
		_ = os.Unsetenv(envListenPID)
		_ = os.Unsetenv(envListenFDs)
		_ = os.Unsetenv(envListenFDNames)
	}()

	pid, err := strconv.Atoi(os.Getenv(envListenPID))
	if err != nil || pid != os.Getpid() {
		return bag
	}

	n, err := strconv.Atoi(os.Getenv(envListenFDs))
	if err != nil || n <= 0 {
		return bag
	}

	names := strings.Split(os.Getenv(envListenFDNames), fdNameSep)

	for i := 0; i < n; i++ {
		fd := ListenFDsStart + i
		unix.CloseOnExec(fd)

		key := fmt.Sprintf("fd%d", i)
		if i < len(names) && names[i] != "" {
			key = names[i]
		}

		bag.Add(key, os.NewFile(uintptr(fd), key))
	}

	return bag
}
