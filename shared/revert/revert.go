package revert

// Hook is a function run by a Reverter on Fail.
type Hook func()

// Reverter allows codifying a rollback of a sequence of fallible setup
// steps. Call Add after each step that successfully allocated a resource;
// call Success once the whole sequence has completed; defer Fail so that
// anything added before an early return (error or panic) is unwound in
// reverse order.
//
// PortSet.open uses this to roll back every descriptor opened so far in a
// single open() call when a later port in the sequence fails, per spec.md
// §4.2.
type Reverter struct {
	hooks []Hook
}

// New returns an empty Reverter.
func New() *Reverter {
	return &Reverter{}
}

// Add appends a hook to run on Fail, in the reverse of Add order.
func (r *Reverter) Add(hook Hook) {
	r.hooks = append(r.hooks, hook)
}

// Fail runs every added hook in reverse order and clears the hook list.
// Safe to call unconditionally via defer; Success makes it a no-op.
func (r *Reverter) Fail() {
	for i := len(r.hooks) - 1; i >= 0; i-- {
		r.hooks[i]()
	}

	r.hooks = nil
}

// Success discards the added hooks without running them.
func (r *Reverter) Success() {
	r.hooks = nil
}

// Clone returns a new Reverter carrying the same pending hooks, and clears
// them from the receiver. Useful when a helper builds up rollback steps
// that the caller wants to fold into its own outer Reverter on success, or
// run independently on failure.
func (r *Reverter) Clone() *Reverter {
	clone := &Reverter{hooks: r.hooks}
	r.hooks = nil

	return clone
}
