package sweep

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func planVoltages(t *testing.T, plan *SegmentPlan) []float64 {
	t.Helper()

	values := make([]float64, 0, plan.Len())
	for _, s := range plan.Steps() {
		values = append(values, s.TargetVoltage)
	}

	return values
}

func TestBuildPlanOneWay(t *testing.T) {
	require := require.New(t)

	t.Run("Even Division", func(t *testing.T) {
		plan, err := BuildPlan(StandardSweep{Start: 0, Stop: 1, Step: 0.25, Delay: 0.05})
		require.NoError(err)
		require.Equal([]float64{0, 0.25, 0.5, 0.75, 1}, planVoltages(t, plan))
		require.Equal(5, plan.SampleCount())
	})

	t.Run("Uneven Division Never Overshoots", func(t *testing.T) {
		plan, err := BuildPlan(StandardSweep{Start: 0, Stop: 1, Step: 0.3, Delay: 0.05})
		require.NoError(err)

		values := planVoltages(t, plan)
		// ceil(1/0.3)+1 points, last lands exactly on the stop voltage
		require.Len(values, 5)
		require.InDelta(0.9, values[3], 1e-12)
		require.Equal(1.0, values[len(values)-1])
		for _, v := range values {
			require.LessOrEqual(v, 1.0)
		}
	})

	t.Run("Descending", func(t *testing.T) {
		plan, err := BuildPlan(StandardSweep{Start: 2, Stop: -1, Step: 1, Delay: 0.05})
		require.NoError(err)
		require.Equal([]float64{2, 1, 0, -1}, planVoltages(t, plan))
	})

	t.Run("Step Sign Ignored", func(t *testing.T) {
		up, err := BuildPlan(StandardSweep{Start: 0, Stop: 1, Step: -0.5, Delay: 0.05})
		require.NoError(err)
		require.Equal([]float64{0, 0.5, 1}, planVoltages(t, up))
	})

	t.Run("Point Count", func(t *testing.T) {
		start, stop, step := -1.5, 3.0, 0.5
		plan, err := BuildPlan(StandardSweep{Start: start, Stop: stop, Step: step, Delay: 0.05})
		require.NoError(err)

		want := int(math.Ceil(math.Abs(stop-start)/step)) + 1
		require.Equal(want, plan.Len())
	})

	t.Run("Degenerate", func(t *testing.T) {
		_, err := BuildPlan(StandardSweep{Start: 1, Stop: 1, Step: 0.1, Delay: 0.05})
		require.ErrorIs(err, ErrInvalidProtocolParameters)

		_, err = BuildPlan(StandardSweep{Start: 0, Stop: 1, Step: 0, Delay: 0.05})
		require.ErrorIs(err, ErrInvalidProtocolParameters)

		_, err = BuildPlan(StandardSweep{Start: 0, Stop: 1, Step: 0.1, Delay: 0})
		require.ErrorIs(err, ErrInvalidProtocolParameters)

		_, err = BuildPlan(StandardSweep{Start: 0, Stop: math.NaN(), Step: 0.1, Delay: 0.05})
		require.ErrorIs(err, ErrInvalidProtocolParameters)
	})
}

func TestBuildPlanSimpleCycle(t *testing.T) {
	require := require.New(t)

	t.Run("Single Cycle Shape", func(t *testing.T) {
		plan, err := BuildPlan(StandardSweep{
			Mode: SimpleCycle, CyclePeak: 1, Cycles: 1, Step: 0.5, Delay: 0.05,
		})
		require.NoError(err)
		require.Equal([]float64{0, 0.5, 1, 0.5, 0, -0.5, -1, -0.5, 0}, planVoltages(t, plan))
	})

	t.Run("Joint Points Shared Across Cycles", func(t *testing.T) {
		plan, err := BuildPlan(StandardSweep{
			Mode: SimpleCycle, CyclePeak: 1, Cycles: 3, Step: 1, Delay: 0.05,
		})
		require.NoError(err)

		// single traversal 0,1,0,-1,0; repetitions share the joint zero
		require.Equal([]float64{0, 1, 0, -1, 0, 1, 0, -1, 0, 1, 0, -1, 0}, planVoltages(t, plan))
		require.Equal(3, plan.Cycles())

		// shared joint keeps the earlier cycle tag
		steps := plan.Steps()
		require.Equal(1, steps[4].Cycle)
		require.Equal(2, steps[5].Cycle)
	})

	t.Run("Zero Peak", func(t *testing.T) {
		plan, err := BuildPlan(StandardSweep{
			Mode: SimpleCycle, CyclePeak: 0, Cycles: 2, Step: 0.5, Delay: 0.05,
		})
		require.NoError(err)
		require.Equal([]float64{0}, planVoltages(t, plan))
	})

	t.Run("Degenerate", func(t *testing.T) {
		_, err := BuildPlan(StandardSweep{Mode: SimpleCycle, CyclePeak: 1, Cycles: 0, Step: 0.5, Delay: 0.05})
		require.ErrorIs(err, ErrInvalidProtocolParameters)

		_, err = BuildPlan(StandardSweep{Mode: SimpleCycle, CyclePeak: -1, Cycles: 1, Step: 0.5, Delay: 0.05})
		require.ErrorIs(err, ErrInvalidProtocolParameters)
	})
}

func TestBuildPlanCustomSequence(t *testing.T) {
	require := require.New(t)

	t.Run("Segments Join Without Duplicates", func(t *testing.T) {
		plan, err := BuildPlan(CustomSequence{
			Segments: []Segment{{StartV: 0, EndV: 1}, {StartV: 1, EndV: -1}},
			Step:     0.5, Delay: 0.05, Cycles: 1,
		})
		require.NoError(err)
		require.Equal([]float64{0, 0.5, 1, 0.5, 0, -0.5, -1}, planVoltages(t, plan))
	})

	t.Run("Disjoint Segments Keep Both Endpoints", func(t *testing.T) {
		plan, err := BuildPlan(CustomSequence{
			Segments: []Segment{{StartV: 0, EndV: 1}, {StartV: 2, EndV: 3}},
			Step:     1, Delay: 0.05, Cycles: 1,
		})
		require.NoError(err)
		require.Equal([]float64{0, 1, 2, 3}, planVoltages(t, plan))
	})

	t.Run("Flat Segment Is A Single Point", func(t *testing.T) {
		plan, err := BuildPlan(CustomSequence{
			Segments: []Segment{{StartV: 1, EndV: 1}},
			Step:     0.5, Delay: 0.05, Cycles: 1,
		})
		require.NoError(err)
		require.Equal([]float64{1}, planVoltages(t, plan))
	})

	t.Run("Cycle Repetition", func(t *testing.T) {
		plan, err := BuildPlan(CustomSequence{
			Segments: []Segment{{StartV: 0, EndV: 1}},
			Step:     1, Delay: 0.05, Cycles: 2,
		})
		require.NoError(err)

		// the repetition starts at 0, which differs from the trailing 1, so
		// nothing is deduplicated at the cycle joint
		require.Equal([]float64{0, 1, 0, 1}, planVoltages(t, plan))
		require.Equal(2, plan.Cycles())
	})

	t.Run("Degenerate", func(t *testing.T) {
		_, err := BuildPlan(CustomSequence{Step: 0.5, Delay: 0.05, Cycles: 1})
		require.ErrorIs(err, ErrInvalidProtocolParameters)

		_, err = BuildPlan(CustomSequence{
			Segments: []Segment{{StartV: 0, EndV: 1}}, Step: 0, Delay: 0.05, Cycles: 1,
		})
		require.ErrorIs(err, ErrInvalidProtocolParameters)

		_, err = BuildPlan(CustomSequence{
			Segments: []Segment{{StartV: 0, EndV: math.Inf(1)}}, Step: 0.5, Delay: 0.05, Cycles: 1,
		})
		require.ErrorIs(err, ErrInvalidProtocolParameters)
	})
}

func TestBuildPlanWRER(t *testing.T) {
	require := require.New(t)

	t.Run("Phase Layout", func(t *testing.T) {
		plan, err := BuildPlan(WRER{
			WriteV: 2, WriteTime: 1,
			ReadV: 0.2, ReadTime: 1,
			EraseV: -2, EraseTime: 1,
			Cycles: 2, SamplingInterval: 0.5,
		})
		require.NoError(err)
		require.Equal(8, plan.Len())

		steps := plan.Steps()
		require.Equal([]float64{2, 0.2, -2, 0.2}, []float64{
			steps[0].TargetVoltage, steps[1].TargetVoltage, steps[2].TargetVoltage, steps[3].TargetVoltage,
		})
		require.Equal(1, steps[3].Cycle)
		require.Equal(2, steps[4].Cycle)
	})

	t.Run("Ceiling Sample Counts", func(t *testing.T) {
		// phase durations 2/1/2 with interval 0.5 -> 4+2+4+2 samples per cycle
		plan, err := BuildPlan(WRER{
			WriteV: 2, WriteTime: 2,
			ReadV: 0.2, ReadTime: 1,
			EraseV: -2, EraseTime: 2,
			Cycles: 1, SamplingInterval: 0.5,
		})
		require.NoError(err)
		require.Equal(12, plan.SampleCount())

		steps := plan.Steps()
		require.Equal(4, steps[0].SampleCount())
		require.Equal(2, steps[1].SampleCount())

		// an interval that does not divide the phase rounds the count up
		plan, err = BuildPlan(WRER{
			WriteV: 2, WriteTime: 1,
			ReadV: 0.2, ReadTime: 1,
			EraseV: -2, EraseTime: 1,
			Cycles: 1, SamplingInterval: 0.4,
		})
		require.NoError(err)
		require.Equal(3, plan.Steps()[0].SampleCount())
	})

	t.Run("Total Duration", func(t *testing.T) {
		plan, err := BuildPlan(WRER{
			WriteV: 2, WriteTime: 1,
			ReadV: 0.2, ReadTime: 0.5,
			EraseV: -2, EraseTime: 1,
			Cycles: 2, SamplingInterval: 0.25,
		})
		require.NoError(err)
		require.Equal(6*time.Second, plan.TotalDuration())
	})

	t.Run("Degenerate", func(t *testing.T) {
		_, err := BuildPlan(WRER{WriteV: 2, WriteTime: 0, ReadV: 0.2, ReadTime: 1, EraseV: -2, EraseTime: 1, Cycles: 1, SamplingInterval: 0.5})
		require.ErrorIs(err, ErrInvalidProtocolParameters)

		_, err = BuildPlan(WRER{WriteV: 2, WriteTime: 1, ReadV: 0.2, ReadTime: 1, EraseV: -2, EraseTime: 1, Cycles: 1, SamplingInterval: 0})
		require.ErrorIs(err, ErrInvalidProtocolParameters)

		_, err = BuildPlan(WRER{WriteV: 2, WriteTime: 1, ReadV: 0.2, ReadTime: 1, EraseV: -2, EraseTime: 1, Cycles: 0, SamplingInterval: 0.5})
		require.ErrorIs(err, ErrInvalidProtocolParameters)
	})
}
