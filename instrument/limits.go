package instrument

import (
	"errors"
	"fmt"
	"math"
)

// Hardware envelope of the supported Keithley-class source-measure units.
const (
	// MaxAbsVoltage is the absolute source voltage the instrument accepts.
	MaxAbsVoltage = 210.0

	// MaxComplianceUA is the largest current compliance value, in microamperes.
	MaxComplianceUA = 1_000_000.0

	// DefaultHighVoltage is the magnitude above which operator confirmation
	// should be obtained before sourcing.
	DefaultHighVoltage = 5.0

	// OverflowAbs is the instrument convention for an overrange/compliance
	// reading; any measured magnitude at or above it is invalid.
	OverflowAbs = 9.9e37
)

var (
	// ErrVoltageNotFinite indicates a NaN or infinite voltage value.
	ErrVoltageNotFinite = errors.New("voltage must be a finite number")

	// ErrVoltageOutOfRange indicates a voltage outside the hardware envelope.
	ErrVoltageOutOfRange = fmt.Errorf("voltage exceeds allowed range (+/-%g V)", MaxAbsVoltage)

	// ErrComplianceNotFinite indicates a NaN or infinite compliance value.
	ErrComplianceNotFinite = errors.New("compliance must be a finite number")

	// ErrComplianceOutOfRange indicates a non-positive or too large compliance value.
	ErrComplianceOutOfRange = fmt.Errorf("compliance must be in range (0, %g] uA", MaxComplianceUA)

	// ErrReadingOverflow indicates an overrange/compliance current reading.
	ErrReadingOverflow = errors.New("current reading is overrange/compliance; reduce voltage or increase compliance")
)

// ValidateVoltage reports whether v can be sourced on the instrument.
func ValidateVoltage(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrVoltageNotFinite
	}
	if math.Abs(v) > MaxAbsVoltage {
		return ErrVoltageOutOfRange
	}

	return nil
}

// ValidateCompliance reports whether ua is an acceptable current compliance
// value in microamperes.
func ValidateCompliance(ua float64) error {
	if math.IsNaN(ua) || math.IsInf(ua, 0) {
		return ErrComplianceNotFinite
	}
	if ua <= 0 || ua > MaxComplianceUA {
		return ErrComplianceOutOfRange
	}

	return nil
}
