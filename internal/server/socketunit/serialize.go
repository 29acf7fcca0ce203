package socketunit

import (
	"fmt"
	"strconv"
	"strings"

	ilinux "github.com/DankBSD/InitWare/internal/linux"
)

// Serialize implements StateSerializer.serialize (spec.md §4.5): it
// writes one key=value line per field that needs to survive a controlled
// re-exec, and hands every currently open port's descriptor into bag,
// keyed by the port's structural identity rather than its fd number.
func (u *SocketUnit) Serialize(w *strings.Builder, bag *ilinux.FdBag) {
	fmt.Fprintf(w, "state=%s\n", u.state)
	fmt.Fprintf(w, "result=%s\n", u.result)
	fmt.Fprintf(w, "n-accepted=%d\n", u.nAccepted)
	fmt.Fprintf(w, "n-connections=%d\n", u.nConnections)

	for _, ts := range u.triggerTimestamps {
		fmt.Fprintf(w, "trigger-timestamp=%d\n", ts)
	}

	for _, p := range u.collectFds() {
		bag.Add(p.Key(), p.file)
		fmt.Fprintf(w, "fd-name=%s\n", p.Key())
	}

	if u.controlPid > 0 {
		fmt.Fprintf(w, "control-pid=%d\n", u.controlPid)
		fmt.Fprintf(w, "control-command-phase=%s\n", u.controlCommandPhase)
	}
}

// DeserializeItem implements StateSerializer.deserializeItem. Unknown
// keys are ignored rather than rejected, so a state file written by a
// newer binary still coldplugs cleanly into an older one.
func (u *SocketUnit) DeserializeItem(key, value string) error {
	switch key {
	case "state":
		s, err := parseState(value)
		if err != nil {
			return err
		}

		u.state = s
	case "result":
		u.result = parseResult(value)
	case "n-accepted":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("n-accepted: %w", err)
		}

		u.nAccepted = n
	case "n-connections":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("n-connections: %w", err)
		}

		u.nConnections = n
	case "trigger-timestamp":
		ts, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("trigger-timestamp: %w", err)
		}

		u.triggerTimestamps = append(u.triggerTimestamps, ts)
	case "control-pid":
		pid, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("control-pid: %w", err)
		}

		u.controlPid = pid
	case "control-command-phase":
		// Diagnostic only. The in-flight command chain can't be resumed
		// across a re-exec — coldplug() re-watches controlPid itself, and
		// its eventual onChildExit drives whichever phase transition
		// comes next without needing to know which step was running.
	}

	return nil
}

// Coldplug implements StateSerializer.coldplug: reclaims descriptors from
// bag by structural key, re-arms readiness watches if the unit was
// Listening, and resumes watching a surviving control pid.
func (u *SocketUnit) Coldplug(bag *ilinux.FdBag) {
	for _, p := range u.ports {
		f, ok := bag.Take(p.Key())
		if !ok {
			continue
		}

		p.setFile(f)
	}

	if u.state == StateListening {
		u.watchPorts()
	}

	if u.controlPid > 0 && u.loop != nil {
		pid := u.controlPid

		u.controlWatch = u.loop.WatchChild(pid, func(code int, outcome ChildOutcome) {
			u.onChildExit(u.controlCommand, code, outcome)
		})
	}
}

func parseState(s string) (State, error) {
	for st := StateDead; st <= StateFailed; st++ {
		if st.String() == s {
			return st, nil
		}
	}

	return StateDead, fmt.Errorf("unknown state %q", s)
}

func parseResult(s string) Result {
	for r := ResultSuccess; r <= ResultServiceFailedPermanent; r++ {
		if r.String() == s {
			return r
		}
	}

	return ResultSuccess
}
