package linux

import (
	"errors"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// GetErrno checks if the Go error is a kernel errno.
func GetErrno(err error) (errno error, iserrno bool) {
	sysErr, ok := err.(*os.SyscallError)
	if ok {
		return sysErr.Err, true
	}

	pathErr, ok := err.(*os.PathError)
	if ok {
		return pathErr.Err, true
	}

	tmpErrno, ok := err.(unix.Errno)
	if ok {
		return tmpErrno, true
	}

	return nil, false
}

// ExitStatus extracts the exit status from the error returned by exec.Cmd.
// If a nil err is provided then an exit status of 0 is returned along with the nil error.
// If a valid exit status can be extracted from err then it is returned along with a nil error.
// If no valid exit status can be extracted then a -1 exit status is returned along with the err provided.
func ExitStatus(err error) (int, error) {
	if err == nil {
		return 0, err // No error exit status.
	}

	var exitErr *exec.ExitError

	// Detect and extract ExitError to check the embedded exit status.
	if errors.As(err, &exitErr) {
		// If the process was signaled, extract the signal.
		status, isWaitStatus := exitErr.Sys().(unix.WaitStatus)
		if isWaitStatus && status.Signaled() {
			return 128 + int(status.Signal()), nil // 128 + n == Fatal error signal "n"
		}

		// Otherwise capture the exit status from the command.
		return exitErr.ExitCode(), nil
	}

	return -1, err // Not able to extract an exit status.
}

// ChildOutcome classifies how a reaped child process terminated, independent
// of whether that outcome should be coerced to success by an "ignore
// failure" exec flag. The caller applies that coercion.
type ChildOutcome int

const (
	// OutcomeSuccess means the process exited with status 0.
	OutcomeSuccess ChildOutcome = iota
	// OutcomeExitCode means the process exited with a non-zero status.
	OutcomeExitCode
	// OutcomeSignal means the process was killed by a signal.
	OutcomeSignal
	// OutcomeCoreDump means the process was killed by a signal and dumped core.
	OutcomeCoreDump
)

// ClassifyWaitStatus turns the status reported by wait4() for a reaped pid
// into a ChildOutcome plus the raw code (exit status or signal number) that
// produced it. This is the primitive the SocketUnit child-exit routing table
// uses to decide between the Success/ExitCode/Signal/CoreDump result kinds.
func ClassifyWaitStatus(status unix.WaitStatus) (outcome ChildOutcome, code int) {
	switch {
	case status.Exited():
		if status.ExitStatus() == 0 {
			return OutcomeSuccess, 0
		}

		return OutcomeExitCode, status.ExitStatus()
	case status.Signaled():
		if status.CoreDump() {
			return OutcomeCoreDump, int(status.Signal())
		}

		return OutcomeSignal, int(status.Signal())
	default:
		// Stopped/continued notifications never reach the reaper (it only
		// forwards on WIFEXITED || WIFSIGNALED), but stay defensive.
		return OutcomeExitCode, -1
	}
}
