package socketunit

import "golang.org/x/sys/unix"

// killPid sends signo to pid, tolerating ESRCH (already gone).
func killPid(pid int, signo int) error {
	err := unix.Kill(pid, unix.Signal(signo))
	if err == unix.ESRCH {
		return nil
	}

	return err
}
