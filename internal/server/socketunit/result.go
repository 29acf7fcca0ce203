package socketunit

// Result classifies why a SocketUnit most recently left the Success path.
// It resets to Success at the top of every fresh start().
type Result int

const (
	// ResultSuccess means nothing went wrong.
	ResultSuccess Result = iota
	// ResultResources means allocation, spawn, bind or listen failed.
	ResultResources
	// ResultTimeout means a hook or signal escalation timed out.
	ResultTimeout
	// ResultExitCode means a hook exited with a non-zero status.
	ResultExitCode
	// ResultSignal means a hook was killed by a signal.
	ResultSignal
	// ResultCoreDump means a hook was killed by a signal and dumped core.
	ResultCoreDump
	// ResultServiceFailedPermanent means the companion service unit entered
	// a state from which triggerNotify will never be observed again.
	ResultServiceFailedPermanent
)

// String implements fmt.Stringer.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultResources:
		return "resources"
	case ResultTimeout:
		return "timeout"
	case ResultExitCode:
		return "exit-code"
	case ResultSignal:
		return "signal"
	case ResultCoreDump:
		return "core-dump"
	case ResultServiceFailedPermanent:
		return "service-failed-permanent"
	default:
		return "unknown"
	}
}

// IsFailure reports whether r represents anything other than ResultSuccess.
func (r Result) IsFailure() bool {
	return r != ResultSuccess
}
