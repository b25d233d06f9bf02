package sweep

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidProtocolParameters indicates degenerate protocol input such as a
	// zero step for a swept mode or a non-positive hold time. It is always
	// detected before any instrument contact.
	ErrInvalidProtocolParameters = errors.New("invalid protocol parameters")

	// ErrComplianceNotSet indicates that a protocol requests a nonzero voltage
	// while no current compliance has been applied to the instrument.
	ErrComplianceNotSet = errors.New("current compliance is not set")

	// ErrVoltageExceedsLimit indicates that a protocol target voltage exceeds
	// the configured hardware voltage limit.
	ErrVoltageExceedsLimit = errors.New("target voltage exceeds the configured voltage limit")

	// ErrRunInProgress indicates a run request while another run owns the
	// instrument. The new request never alters the active run.
	ErrRunInProgress = errors.New("a measurement run is already in progress")

	// ErrNotAwaitingConfirmation indicates a Confirm call while no run is
	// suspended on the high-voltage confirmation gate.
	ErrNotAwaitingConfirmation = errors.New("no run is awaiting high-voltage confirmation")

	// ErrRunAbortedByFileDecision indicates that the logging collaborator chose
	// to abort instead of appending to or overwriting the output file.
	ErrRunAbortedByFileDecision = errors.New("run aborted by file decision")

	// ErrInvalidRunTransition is returned when an attempt is made to transition
	// the run state machine to an invalid state.
	ErrInvalidRunTransition = errors.New("invalid run state transition")
)

// CommError reports an instrument communication failure mid-execution. It is
// terminal for the current run and carries the last successfully applied
// voltage so the operator knows where the device under test was left.
type CommError struct {
	LastAppliedVoltage float64
	Err                error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("instrument communication failed (last applied voltage %g V): %v", e.LastAppliedVoltage, e.Err)
}

func (e *CommError) Unwrap() error {
	return e.Err
}
