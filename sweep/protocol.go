package sweep

import "math"

// ProtocolKind identifies the concrete Protocol variant.
type ProtocolKind uint8

const (
	KindStandardSweep ProtocolKind = iota
	KindCustomSequence
	KindWRER
)

// String returns string representation of the protocol kind.
func (k ProtocolKind) String() string {
	switch k {
	case KindStandardSweep:
		return "standard-sweep"
	case KindCustomSequence:
		return "custom-sequence"
	case KindWRER:
		return "wrer"
	default:
		return "unknown"
	}
}

// SweepMode selects the traversal shape of a StandardSweep.
type SweepMode uint8

const (
	// OneWay sweeps from Start to Stop once.
	OneWay SweepMode = iota
	// SimpleCycle traces 0 -> +peak -> 0 -> -peak -> 0, repeated Cycles times.
	SimpleCycle
)

// String returns string representation of the sweep mode.
func (m SweepMode) String() string {
	switch m {
	case OneWay:
		return "one-way"
	case SimpleCycle:
		return "simple-cycle"
	default:
		return "unknown"
	}
}

// Protocol is the closed set of run kinds the engine executes. Exactly one
// variant is active per run; the builder and drivers switch over the concrete
// type exhaustively.
type Protocol interface {
	// Kind returns the variant tag.
	Kind() ProtocolKind
	// Targets returns every voltage extremum the protocol can source, for
	// interlock validation. Ramp interior points never exceed their segment
	// endpoints, so endpoints are sufficient.
	Targets() []float64

	protocol()
}

// StandardSweep is a linear I-V sweep, either one-way from Start to Stop or a
// zero-centered simple cycle with peak CyclePeak.
type StandardSweep struct {
	Start float64
	Stop  float64
	// Step is the voltage increment magnitude between set-points. Its sign is
	// corrected to match the sweep direction.
	Step float64
	// Delay is the hold time at each set-point, in seconds.
	Delay float64
	Mode  SweepMode
	// CyclePeak and Cycles apply to SimpleCycle mode only.
	CyclePeak float64
	Cycles    int
}

func (StandardSweep) Kind() ProtocolKind { return KindStandardSweep }
func (StandardSweep) protocol()          {}

func (p StandardSweep) Targets() []float64 {
	if p.Mode == SimpleCycle {
		peak := math.Abs(p.CyclePeak)
		return []float64{0, peak, -peak}
	}

	return []float64{p.Start, p.Stop}
}

// Segment is one leg of a custom sequence, swept from StartV to EndV.
type Segment struct {
	StartV float64
	EndV   float64
}

// CustomSequence sweeps an ordered list of user segments, each expanded into a
// one-way ramp with the shared Step and Delay, repeated Cycles times.
type CustomSequence struct {
	Segments []Segment
	Step     float64
	// Delay is the hold time at each set-point, in seconds.
	Delay  float64
	Cycles int
}

func (CustomSequence) Kind() ProtocolKind { return KindCustomSequence }
func (CustomSequence) protocol()          {}

func (p CustomSequence) Targets() []float64 {
	targets := make([]float64, 0, 2*len(p.Segments))
	for _, seg := range p.Segments {
		targets = append(targets, seg.StartV, seg.EndV)
	}

	return targets
}

// WRER is a write-read-erase-read endurance/retention cycle: four constant
// voltage phases per cycle, each sampled at SamplingInterval granularity.
type WRER struct {
	WriteV    float64
	WriteTime float64
	ReadV     float64
	ReadTime  float64
	EraseV    float64
	EraseTime float64
	Cycles    int
	// SamplingInterval is the measurement granularity within each phase,
	// in seconds.
	SamplingInterval float64
}

func (WRER) Kind() ProtocolKind { return KindWRER }
func (WRER) protocol()          {}

func (p WRER) Targets() []float64 {
	return []float64{p.WriteV, p.ReadV, p.EraseV}
}
