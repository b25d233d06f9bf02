package sweep

import (
	"fmt"
	"math"
	"time"

	"github.com/voltlab/go-smu/internal/util"
)

// Step is one primitive instruction of a segment plan: hold TargetVoltage for
// Hold, measuring once per SampleEvery sub-interval. Cycle tags the step with
// its 1-based repetition for downstream grouping.
type Step struct {
	TargetVoltage float64
	Hold          time.Duration
	SampleEvery   time.Duration
	Cycle         int
}

// SampleCount returns the number of measurements the step yields: ceil(Hold /
// SampleEvery), with the last sample taken at or before the end of the hold.
func (s Step) SampleCount() int {
	if s.SampleEvery <= 0 || s.Hold <= 0 {
		return 1
	}

	return int((s.Hold + s.SampleEvery - 1) / s.SampleEvery)
}

// SegmentPlan is the compiled, immutable form of a protocol: a non-empty
// ordered list of steps. It is produced once per run; re-running requires a
// fresh plan.
type SegmentPlan struct {
	steps []Step
}

// Steps returns a copy of the plan's step list.
func (p *SegmentPlan) Steps() []Step {
	return util.CloneSlice(p.steps, 0)
}

// Len returns the number of steps in the plan.
func (p *SegmentPlan) Len() int {
	return len(p.steps)
}

// SampleCount returns the total number of samples the plan will emit.
func (p *SegmentPlan) SampleCount() int {
	count := 0
	for _, s := range p.steps {
		count += s.SampleCount()
	}

	return count
}

// TotalDuration returns the nominal execution time of the plan.
func (p *SegmentPlan) TotalDuration() time.Duration {
	var total time.Duration
	for _, s := range p.steps {
		total += s.Hold
	}

	return total
}

// Cycles returns the highest cycle tag in the plan.
func (p *SegmentPlan) Cycles() int {
	max := 0
	for _, s := range p.steps {
		if s.Cycle > max {
			max = s.Cycle
		}
	}

	return max
}

// BuildPlan compiles a protocol into a segment plan. It is pure: no I/O, no
// instrument contact. Degenerate input is rejected with
// ErrInvalidProtocolParameters.
func BuildPlan(p Protocol) (*SegmentPlan, error) {
	switch v := p.(type) {
	case StandardSweep:
		return buildStandardSweep(v)
	case CustomSequence:
		return buildCustomSequence(v)
	case WRER:
		return buildWRER(v)
	default:
		return nil, fmt.Errorf("%w: unsupported protocol variant %T", ErrInvalidProtocolParameters, p)
	}
}

func buildStandardSweep(p StandardSweep) (*SegmentPlan, error) {
	if !allFinite(p.Start, p.Stop, p.Step, p.Delay, p.CyclePeak) {
		return nil, fmt.Errorf("%w: values must be finite", ErrInvalidProtocolParameters)
	}
	if p.Step == 0 {
		return nil, fmt.Errorf("%w: sweep step cannot be zero", ErrInvalidProtocolParameters)
	}
	if p.Delay <= 0 {
		return nil, fmt.Errorf("%w: delay must be > 0", ErrInvalidProtocolParameters)
	}

	switch p.Mode {
	case OneWay:
		if p.Start == p.Stop {
			return nil, fmt.Errorf("%w: sweep start equals stop", ErrInvalidProtocolParameters)
		}

		values := rampValues(p.Start, p.Stop, math.Abs(p.Step))
		return planFromValues(values, nil, p.Delay), nil

	case SimpleCycle:
		if p.Cycles < 1 {
			return nil, fmt.Errorf("%w: cycles must be >= 1", ErrInvalidProtocolParameters)
		}
		if p.CyclePeak < 0 {
			return nil, fmt.Errorf("%w: cycle peak must be >= 0", ErrInvalidProtocolParameters)
		}

		values, cycles := simpleCycleValues(p.CyclePeak, math.Abs(p.Step), p.Cycles)
		return planFromValues(values, cycles, p.Delay), nil

	default:
		return nil, fmt.Errorf("%w: unsupported sweep mode", ErrInvalidProtocolParameters)
	}
}

func buildCustomSequence(p CustomSequence) (*SegmentPlan, error) {
	if len(p.Segments) == 0 {
		return nil, fmt.Errorf("%w: sequence has no segments", ErrInvalidProtocolParameters)
	}
	if p.Step == 0 {
		return nil, fmt.Errorf("%w: sweep step cannot be zero", ErrInvalidProtocolParameters)
	}
	if p.Delay <= 0 {
		return nil, fmt.Errorf("%w: delay must be > 0", ErrInvalidProtocolParameters)
	}
	if p.Cycles < 1 {
		return nil, fmt.Errorf("%w: cycles must be >= 1", ErrInvalidProtocolParameters)
	}
	for _, seg := range p.Segments {
		if !allFinite(seg.StartV, seg.EndV) {
			return nil, fmt.Errorf("%w: segment voltages must be finite", ErrInvalidProtocolParameters)
		}
	}
	if !allFinite(p.Step, p.Delay) {
		return nil, fmt.Errorf("%w: values must be finite", ErrInvalidProtocolParameters)
	}

	stepMag := math.Abs(p.Step)
	single := make([]float64, 0, 16)
	for _, seg := range p.Segments {
		var leg []float64
		if seg.StartV == seg.EndV {
			// flat segment compiles to a single hold point
			leg = []float64{seg.StartV}
		} else {
			leg = rampValues(seg.StartV, seg.EndV, stepMag)
		}
		single = appendDedup(single, leg)
	}

	values, cycles := repeatCycles(single, p.Cycles)

	return planFromValues(values, cycles, p.Delay), nil
}

func buildWRER(p WRER) (*SegmentPlan, error) {
	if !allFinite(p.WriteV, p.WriteTime, p.ReadV, p.ReadTime, p.EraseV, p.EraseTime, p.SamplingInterval) {
		return nil, fmt.Errorf("%w: values must be finite", ErrInvalidProtocolParameters)
	}
	if p.WriteTime <= 0 || p.ReadTime <= 0 || p.EraseTime <= 0 {
		return nil, fmt.Errorf("%w: write/read/erase time must be > 0", ErrInvalidProtocolParameters)
	}
	if p.SamplingInterval <= 0 {
		return nil, fmt.Errorf("%w: sampling interval must be > 0", ErrInvalidProtocolParameters)
	}
	if p.Cycles < 1 {
		return nil, fmt.Errorf("%w: cycles must be >= 1", ErrInvalidProtocolParameters)
	}

	interval := seconds(p.SamplingInterval)
	steps := make([]Step, 0, 4*p.Cycles)
	for cycle := 1; cycle <= p.Cycles; cycle++ {
		steps = append(steps,
			Step{TargetVoltage: p.WriteV, Hold: seconds(p.WriteTime), SampleEvery: interval, Cycle: cycle},
			Step{TargetVoltage: p.ReadV, Hold: seconds(p.ReadTime), SampleEvery: interval, Cycle: cycle},
			Step{TargetVoltage: p.EraseV, Hold: seconds(p.EraseTime), SampleEvery: interval, Cycle: cycle},
			Step{TargetVoltage: p.ReadV, Hold: seconds(p.ReadTime), SampleEvery: interval, Cycle: cycle},
		)
	}

	return &SegmentPlan{steps: steps}, nil
}

// rampValues traces start to stop inclusive with increments of stepMag, sign
// corrected to the ramp direction. When the span is not evenly divisible by
// the step, the final point lands exactly on stop and the last interval is
// shorter than stepMag; the ramp never overshoots its end voltage.
func rampValues(start, stop, stepMag float64) []float64 {
	if start == stop {
		return []float64{start}
	}

	span := math.Abs(stop - start)
	dir := 1.0
	if stop < start {
		dir = -1.0
	}

	intervals := int(math.Ceil(span/stepMag - 1e-9))
	if intervals < 1 {
		intervals = 1
	}

	values := make([]float64, 0, intervals+1)
	for i := 0; i < intervals; i++ {
		values = append(values, start+dir*stepMag*float64(i))
	}

	return append(values, stop)
}

// simpleCycleValues traces 0 -> +peak -> 0 -> -peak -> 0 once and repeats it
// cycles times, deduplicating the shared zero points at leg and cycle joints.
func simpleCycleValues(peak, stepMag float64, cycles int) ([]float64, []int) {
	peak = math.Abs(peak)
	if peak == 0 {
		return []float64{0}, []int{1}
	}

	single := rampValues(0, peak, stepMag)
	single = appendDedup(single, rampValues(peak, 0, stepMag))
	single = appendDedup(single, rampValues(0, -peak, stepMag))
	single = appendDedup(single, rampValues(-peak, 0, stepMag))

	return repeatCycles(single, cycles)
}

// repeatCycles repeats a single traversal cycles times and tags each point
// with its 1-based cycle. A repetition whose first point equals the previous
// trailing point shares it; the shared point keeps the earlier cycle tag.
func repeatCycles(single []float64, cycles int) ([]float64, []int) {
	values := util.CloneSlice(single, 0)
	tags := make([]int, len(single))
	for i := range tags {
		tags[i] = 1
	}

	for cycle := 2; cycle <= cycles; cycle++ {
		rep := single
		if len(values) > 0 && len(rep) > 0 && rep[0] == values[len(values)-1] {
			rep = rep[1:]
		}
		values = append(values, rep...)
		for range rep {
			tags = append(tags, cycle)
		}
	}

	return values, tags
}

// appendDedup appends leg to values, dropping the leg's first point when it
// repeats the current trailing point.
func appendDedup(values, leg []float64) []float64 {
	if len(values) > 0 && len(leg) > 0 && leg[0] == values[len(values)-1] {
		leg = leg[1:]
	}

	return append(values, leg...)
}

// planFromValues converts a voltage point list into hold steps of delaySec
// seconds each, sampled once per step. cycles may be nil for single-cycle runs.
func planFromValues(values []float64, cycles []int, delaySec float64) *SegmentPlan {
	hold := seconds(delaySec)
	steps := make([]Step, 0, len(values))
	for i, v := range values {
		cycle := 1
		if cycles != nil {
			cycle = cycles[i]
		}
		steps = append(steps, Step{TargetVoltage: v, Hold: hold, SampleEvery: hold, Cycle: cycle})
	}

	return &SegmentPlan{steps: steps}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func allFinite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	return true
}

// protocolDwell returns the protocol's per-sample pacing in seconds: the hold
// delay for swept modes, the sampling interval for WRER.
func protocolDwell(p Protocol) float64 {
	switch v := p.(type) {
	case StandardSweep:
		return v.Delay
	case CustomSequence:
		return v.Delay
	case WRER:
		return v.SamplingInterval
	default:
		return 0
	}
}
