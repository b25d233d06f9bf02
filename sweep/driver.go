package sweep

import (
	"context"
	"time"

	"github.com/voltlab/go-smu/instrument"
	"github.com/voltlab/go-smu/internal/pool"
	"github.com/voltlab/go-smu/logger"
)

// TimingMode selects the timing discipline of a run.
type TimingMode uint8

const (
	// HostPaced executes the plan as a cooperative loop on the host: apply,
	// sleep, read, emit. Cancellation is observed between every sub-interval.
	HostPaced TimingMode = iota
	// DevicePaced compiles the whole plan into one instrument script and
	// fetches the full result buffer in one round trip. Per-sample overhead
	// and timing jitter are lower; cancellation granularity is coarser because
	// a dispatched script is not preemptible.
	DevicePaced
)

// String returns string representation of the timing mode.
func (m TimingMode) String() string {
	switch m {
	case HostPaced:
		return "host-paced"
	case DevicePaced:
		return "device-paced"
	default:
		return "unknown"
	}
}

// Driver executes a segment plan against an instrument, emitting samples in
// non-decreasing elapsed-time order with a dense 0-based index. A driver run
// is finite and not restartable; a new plan must be built to re-run.
//
// Cancellation is signaled through the context and surfaces as the context
// error. Instrument communication failures surface as *CommError after a
// best-effort force-zero.
type Driver interface {
	Execute(ctx context.Context, plan *SegmentPlan, inst instrument.Instrument, emit func(Sample)) error
}

// newDriver selects the driver implementation for the timing mode.
func newDriver(mode TimingMode, cfg *Config) Driver {
	if mode == DevicePaced {
		return &deviceDriver{cfg: cfg}
	}

	return &hostDriver{cfg: cfg}
}

// hostDriver is the host-paced timing discipline: a blocking, single-threaded
// cooperative loop with a suspension point at every sub-interval sleep.
type hostDriver struct {
	cfg *Config
}

func (d *hostDriver) Execute(ctx context.Context, plan *SegmentPlan, inst instrument.Instrument, emit func(Sample)) error {
	log := d.cfg.Logger()
	minDelay := d.cfg.MinHostDelay()

	idx := 0
	lastApplied := 0.0
	var elapsed time.Duration

	for _, step := range plan.Steps() {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := inst.ApplyVoltage(step.TargetVoltage); err != nil {
			forceZeroBestEffort(inst, log)
			return &CommError{LastAppliedVoltage: lastApplied, Err: err}
		}
		lastApplied = step.TargetVoltage

		hold := step.Hold
		if hold < minDelay {
			// clamp to protect instrument settling
			hold = minDelay
		}
		every := step.SampleEvery
		if every <= 0 || every > hold {
			every = hold
		}

		count := int((hold + every - 1) / every)
		remaining := hold
		for k := 0; k < count; k++ {
			dwell := every
			if dwell > remaining {
				dwell = remaining
			}

			// the sleep is the cooperative suspension point; cancellation is
			// polled here, never mid-read
			if err := pool.WaitTimer(ctx, dwell); err != nil {
				return err
			}
			remaining -= dwell

			current, err := inst.ReadCurrent()
			if err != nil {
				forceZeroBestEffort(inst, log)
				return &CommError{LastAppliedVoltage: lastApplied, Err: err}
			}

			elapsed += dwell
			emit(Sample{
				Index:   idx,
				Elapsed: elapsed,
				Voltage: step.TargetVoltage,
				Current: current,
				Cycle:   step.Cycle,
			})
			idx++
		}
	}

	return nil
}

// deviceDriver is the device-paced timing discipline: the plan is compiled
// into a single instrument script, dispatched once, and the ordered result
// buffer is fetched in one round trip.
type deviceDriver struct {
	cfg *Config
}

func (d *deviceDriver) Execute(ctx context.Context, plan *SegmentPlan, inst instrument.Instrument, emit func(Sample)) error {
	log := d.cfg.Logger()

	// cancellation before dispatch aborts cleanly
	if err := ctx.Err(); err != nil {
		return err
	}

	points, cycles := flattenPlan(plan)
	script := instrument.CompileSweep(d.cfg.Channel(), points)
	log.Info("dispatching device-paced sweep", "points", len(points), "channel", script.Channel)

	// execution state is unknown once the script is dispatched; on failure,
	// report the final scripted voltage as the worst case
	worstCase := points[len(points)-1].Voltage

	if err := inst.RunScript(script); err != nil {
		forceZeroBestEffort(inst, log)
		return &CommError{LastAppliedVoltage: worstCase, Err: err}
	}

	rows, err := inst.FetchBuffer()
	if err != nil {
		forceZeroBestEffort(inst, log)
		return &CommError{LastAppliedVoltage: worstCase, Err: err}
	}

	prev := 0.0
	for idx, row := range rows {
		// emitting between buffer rows is the next safe boundary after dispatch
		if err := ctx.Err(); err != nil {
			return err
		}

		t := row.T
		if t < prev {
			t = prev
		}
		prev = t

		cycle := 1
		if idx < len(cycles) {
			cycle = cycles[idx]
		} else if len(cycles) > 0 {
			cycle = cycles[len(cycles)-1]
		}

		emit(Sample{
			Index:   idx,
			Elapsed: seconds(t),
			Voltage: row.V,
			Current: row.I,
			Cycle:   cycle,
		})
	}

	return nil
}

// flattenPlan expands each step into its per-sample script points, carrying
// the step's cycle tag alongside each point.
func flattenPlan(plan *SegmentPlan) ([]instrument.ScriptPoint, []int) {
	total := plan.SampleCount()
	points := make([]instrument.ScriptPoint, 0, total)
	cycles := make([]int, 0, total)

	for _, step := range plan.Steps() {
		hold := step.Hold
		every := step.SampleEvery
		if every <= 0 || every > hold {
			every = hold
		}

		count := int((hold + every - 1) / every)
		remaining := hold
		for k := 0; k < count; k++ {
			dwell := every
			if dwell > remaining {
				dwell = remaining
			}
			remaining -= dwell

			points = append(points, instrument.ScriptPoint{
				Voltage: step.TargetVoltage,
				Dwell:   dwell.Seconds(),
			})
			cycles = append(cycles, step.Cycle)
		}
	}

	return points, cycles
}

func forceZeroBestEffort(inst instrument.Instrument, log logger.Logger) {
	if err := inst.ForceZero(); err != nil {
		log.Error("failed to force output to zero", "error", err)
	}
}
