package instrument

// BufferRow is one entry of a device-paced sweep result buffer: the elapsed
// time since the script started, the applied voltage and the measured current.
type BufferRow struct {
	T float64 // seconds
	V float64 // volts
	I float64 // amperes
}

// Instrument is the set of primitives the sequencing engine issues to a
// source-measure unit. Implementations own dialect and bus details; the engine
// never formats instrument commands itself.
//
// All methods are synchronous. ForceZero must be idempotent and is called on
// a best-effort basis during run finalization, including after errors.
type Instrument interface {
	// ApplyVoltage sources the given voltage on the active channel,
	// enabling output if necessary.
	ApplyVoltage(v float64) error

	// ReadCurrent measures and returns the channel current in amperes.
	ReadCurrent() (float64, error)

	// SetCompliance sets the instrument current limit in microamperes.
	SetCompliance(ua float64) error

	// RunScript executes a pre-compiled sweep script on the instrument.
	// The call returns after the script has finished executing.
	RunScript(script *Script) error

	// FetchBuffer returns the ordered result set produced by the last
	// RunScript call, one row per scripted measurement point.
	FetchBuffer() ([]BufferRow, error)

	// ForceZero drives the output to zero volts and disables it.
	ForceZero() error
}
