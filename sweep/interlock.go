package sweep

import (
	"fmt"
	"math"
)

// InterlockState is the engine's read-only view of the instrument safety
// configuration. It is mutated only by explicit compliance/voltage operations
// on the controller, never by validation.
type InterlockState struct {
	ComplianceSet      bool
	ComplianceValueUA  float64
	MaxVoltageLimit    float64
	LastAppliedVoltage float64
}

// Advice is the advisory outcome of an interlock validation.
type Advice uint8

const (
	// AdviceOK means the protocol may arm without further operator input.
	AdviceOK Advice = iota
	// AdviceConfirmationRequired means a target voltage magnitude exceeds the
	// high-voltage threshold and explicit operator confirmation must be
	// obtained before the run proceeds. It is not a failure; the check is
	// re-run once confirmed.
	AdviceConfirmationRequired
)

// String returns string representation of the advice.
func (a Advice) String() string {
	switch a {
	case AdviceOK:
		return "ok"
	case AdviceConfirmationRequired:
		return "confirmation-required"
	default:
		return "unknown"
	}
}

// Interlock gates every run request on compliance and voltage bounds. It
// performs no instrument I/O and never mutates the state it inspects.
type Interlock struct {
	// HighVoltage is the magnitude above which AdviceConfirmationRequired is
	// signaled. Zero disables the advisory gate.
	HighVoltage float64
}

// Validate checks every target voltage of the protocol against the interlock
// state. Hard failures (ErrComplianceNotSet, ErrVoltageExceedsLimit) mean the
// run must not arm; AdviceConfirmationRequired is recoverable by caller input.
func (il Interlock) Validate(p Protocol, st InterlockState) (Advice, error) {
	targets := p.Targets()

	if !st.ComplianceSet {
		for _, v := range targets {
			if v != 0 {
				return AdviceOK, fmt.Errorf("%w: protocol requests %g V", ErrComplianceNotSet, v)
			}
		}
	}

	for _, v := range targets {
		if math.Abs(v) > st.MaxVoltageLimit {
			return AdviceOK, fmt.Errorf("%w: %g V exceeds %g V", ErrVoltageExceedsLimit, v, st.MaxVoltageLimit)
		}
	}

	if il.HighVoltage > 0 {
		for _, v := range targets {
			if math.Abs(v) > il.HighVoltage {
				return AdviceConfirmationRequired, nil
			}
		}
	}

	return AdviceOK, nil
}
