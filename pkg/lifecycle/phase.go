// Package lifecycle implements the top-level phase state machine of the
// framework. A Supervisor owns the global tuple (config, expanded config,
// system state, last error, phase) behind one mutex and sequences every
// configure, start, stop, suspend, resume and reload operation through it.
package lifecycle

import "fmt"

// Phase is the single global lifecycle status of the whole system.
// Exactly one phase value holds at any instant; it is readable only
// through the Supervisor, under its lock.
type Phase string

const (
	// PhaseStopped means no system state exists.
	PhaseStopped Phase = "stopped"

	// PhaseStarting means instantiation is in progress.
	PhaseStarting Phase = "starting"

	// PhaseRunning means the system is fully instantiated.
	PhaseRunning Phase = "running"

	// PhaseStopping means teardown is in progress.
	PhaseStopping Phase = "stopping"

	// PhaseSuspending means suspension is in progress.
	PhaseSuspending Phase = "suspending"

	// PhaseSuspended means the system is paused, state retained.
	PhaseSuspended Phase = "suspended"

	// PhaseResuming means resumption is in progress.
	PhaseResuming Phase = "resuming"

	// PhaseFailed means a transition raised an error. The exception and
	// whatever partial state it carried are retained; recovery requires an
	// explicit stop followed by reconfigure and start.
	PhaseFailed Phase = "failed"
)

// Validate checks that the phase is one of the defined values.
func (p Phase) Validate() error {
	switch p {
	case PhaseStopped, PhaseStarting, PhaseRunning, PhaseStopping,
		PhaseSuspending, PhaseSuspended, PhaseResuming, PhaseFailed:
		return nil
	default:
		return fmt.Errorf("invalid phase: %s", p)
	}
}

// HasState reports whether system state is expected to exist in this phase.
func (p Phase) HasState() bool {
	switch p {
	case PhaseRunning, PhaseSuspended, PhaseSuspending, PhaseResuming:
		return true
	default:
		return false
	}
}

// phaseError reports an operation attempted from a phase its precondition
// excludes. It is a caller mistake, not a transition failure: the phase is
// left untouched and no failure record is written.
func phaseError(op string, p Phase) error {
	return fmt.Errorf("%s: invalid in phase %s", op, p)
}
