package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/voltlab/go-smu/instrument"
)

func testConfig(t *testing.T, opts ...Option) *Config {
	t.Helper()

	cfg, err := NewConfig(append([]Option{WithMinHostDelay(time.Millisecond)}, opts...)...)
	require.NoError(t, err)

	return cfg
}

func collectSamples(t *testing.T, d Driver, plan *SegmentPlan, inst instrument.Instrument) ([]Sample, error) {
	t.Helper()

	samples := make([]Sample, 0, plan.SampleCount())
	err := d.Execute(context.Background(), plan, inst, func(s Sample) {
		samples = append(samples, s)
	})

	return samples, err
}

func requireOrdered(t *testing.T, samples []Sample) {
	t.Helper()

	require := require.New(t)
	for i, s := range samples {
		require.Equal(i, s.Index)
		if i > 0 {
			require.GreaterOrEqual(s.Elapsed, samples[i-1].Elapsed)
		}
	}
}

func TestHostDriver(t *testing.T) {
	require := require.New(t)

	plan, err := BuildPlan(StandardSweep{Start: 0, Stop: 1, Step: 0.25, Delay: 0.002})
	require.NoError(err)

	t.Run("Completes Plan In Order", func(t *testing.T) {
		sim := instrument.NewSim(1e6)
		d := newDriver(HostPaced, testConfig(t))

		samples, err := collectSamples(t, d, plan, sim)
		require.NoError(err)
		require.Len(samples, plan.SampleCount())
		requireOrdered(t, samples)

		require.Equal(0.0, samples[0].Voltage)
		require.Equal(1.0, samples[len(samples)-1].Voltage)
		// resistive model: i = v / r
		require.InDelta(1.0/1e6, samples[len(samples)-1].Current, 1e-15)
	})

	t.Run("Nominal Elapsed Time", func(t *testing.T) {
		sim := instrument.NewSim(1e6)
		d := newDriver(HostPaced, testConfig(t))

		samples, err := collectSamples(t, d, plan, sim)
		require.NoError(err)
		require.Equal(2*time.Millisecond, samples[0].Elapsed)
		require.Equal(time.Duration(plan.SampleCount())*2*time.Millisecond, samples[len(samples)-1].Elapsed)
	})

	t.Run("Cancellation Stops Between Samples", func(t *testing.T) {
		sim := instrument.NewSim(1e6)
		d := newDriver(HostPaced, testConfig(t))

		ctx, cancel := context.WithCancel(context.Background())
		emitted := 0
		err := d.Execute(ctx, plan, sim, func(s Sample) {
			emitted++
			if emitted == 2 {
				cancel()
			}
		})
		require.ErrorIs(err, context.Canceled)
		require.Equal(2, emitted)
	})

	t.Run("Apply Failure Wraps CommError And Zeroes", func(t *testing.T) {
		writeErr := errors.New("gpib write failed")
		mockInst := instrument.NewMockInstrument()
		mockInst.On("ApplyVoltage", 0.0).Return(nil)
		mockInst.On("ReadCurrent").Return(0.0, nil)
		mockInst.On("ApplyVoltage", 0.25).Return(writeErr)
		mockInst.On("ForceZero").Return(nil)

		d := newDriver(HostPaced, testConfig(t))
		_, err := collectSamples(t, d, plan, mockInst)

		var commErr *CommError
		require.ErrorAs(err, &commErr)
		require.ErrorIs(err, writeErr)
		// the failed set-point never took effect
		require.Equal(0.0, commErr.LastAppliedVoltage)
		mockInst.AssertCalled(t, "ForceZero")
	})

	t.Run("Read Failure Reports Applied Voltage", func(t *testing.T) {
		readErr := errors.New("gpib read failed")
		mockInst := instrument.NewMockInstrument()
		mockInst.On("ApplyVoltage", 0.0).Return(nil)
		mockInst.On("ReadCurrent").Return(0.0, readErr)
		mockInst.On("ForceZero").Return(nil)

		d := newDriver(HostPaced, testConfig(t))
		_, err := collectSamples(t, d, plan, mockInst)

		var commErr *CommError
		require.ErrorAs(err, &commErr)
		require.Equal(0.0, commErr.LastAppliedVoltage)
		mockInst.AssertCalled(t, "ForceZero")
	})

	t.Run("Sub-Interval Sampling", func(t *testing.T) {
		wrer, err := BuildPlan(WRER{
			WriteV: 1, WriteTime: 0.004,
			ReadV: 0.2, ReadTime: 0.002,
			EraseV: -1, EraseTime: 0.004,
			Cycles: 1, SamplingInterval: 0.002,
		})
		require.NoError(err)

		sim := instrument.NewSim(1e6)
		d := newDriver(HostPaced, testConfig(t))

		samples, err := collectSamples(t, d, wrer, sim)
		require.NoError(err)
		// 2 + 1 + 2 + 1 samples across the four phases
		require.Len(samples, 6)
		require.Equal([]float64{1, 1, 0.2, -1, -1, 0.2}, []float64{
			samples[0].Voltage, samples[1].Voltage, samples[2].Voltage,
			samples[3].Voltage, samples[4].Voltage, samples[5].Voltage,
		})
		requireOrdered(t, samples)
	})
}

func TestDeviceDriver(t *testing.T) {
	require := require.New(t)

	plan, err := BuildPlan(StandardSweep{Start: 0, Stop: 1, Step: 0.5, Delay: 0.002})
	require.NoError(err)

	t.Run("Single Dispatch Emits Buffer", func(t *testing.T) {
		sim := instrument.NewSim(2e6)
		d := newDriver(DevicePaced, testConfig(t))

		samples, err := collectSamples(t, d, plan, sim)
		require.NoError(err)
		require.Len(samples, plan.SampleCount())
		requireOrdered(t, samples)
		require.Equal(1.0, samples[len(samples)-1].Voltage)
		require.InDelta(0.5/2e6, samples[1].Current, 1e-15)
	})

	t.Run("Cancel Before Dispatch", func(t *testing.T) {
		mockInst := instrument.NewMockInstrument()
		d := newDriver(DevicePaced, testConfig(t))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := d.Execute(ctx, plan, mockInst, func(Sample) {})
		require.ErrorIs(err, context.Canceled)
		// nothing was dispatched
		mockInst.AssertNotCalled(t, "RunScript")
	})

	t.Run("Script Failure Reports Worst Case", func(t *testing.T) {
		scriptErr := errors.New("script rejected")
		mockInst := instrument.NewMockInstrument()
		mockInst.On("RunScript", mock.Anything).Return(scriptErr)
		mockInst.On("ForceZero").Return(nil)

		d := newDriver(DevicePaced, testConfig(t))
		_, err := collectSamples(t, d, plan, mockInst)

		var commErr *CommError
		require.ErrorAs(err, &commErr)
		// execution state is unknown after dispatch; the final scripted
		// voltage is the worst case
		require.Equal(1.0, commErr.LastAppliedVoltage)
		mockInst.AssertCalled(t, "ForceZero")
	})

	t.Run("Cycle Tags Carried Through", func(t *testing.T) {
		cyclePlan, err := BuildPlan(StandardSweep{
			Mode: SimpleCycle, CyclePeak: 1, Cycles: 2, Step: 1, Delay: 0.002,
		})
		require.NoError(err)

		sim := instrument.NewSim(1e6)
		d := newDriver(DevicePaced, testConfig(t))

		samples, err := collectSamples(t, d, cyclePlan, sim)
		require.NoError(err)
		require.Equal(1, samples[0].Cycle)
		require.Equal(2, samples[len(samples)-1].Cycle)
	})
}

func TestFlattenPlan(t *testing.T) {
	require := require.New(t)

	plan, err := BuildPlan(WRER{
		WriteV: 2, WriteTime: 1,
		ReadV: 0.2, ReadTime: 0.5,
		EraseV: -2, EraseTime: 1,
		Cycles: 1, SamplingInterval: 0.5,
	})
	require.NoError(err)

	points, cycles := flattenPlan(plan)
	require.Len(points, plan.SampleCount())
	require.Len(cycles, plan.SampleCount())

	require.Equal(2.0, points[0].Voltage)
	require.Equal(0.5, points[0].Dwell)
	// write phase expands to two sub-interval points
	require.Equal(2.0, points[1].Voltage)
	require.Equal(0.2, points[2].Voltage)
}
