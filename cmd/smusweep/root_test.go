package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voltlab/go-smu/sweep"
)

func TestParseSegments(t *testing.T) {
	require := require.New(t)

	t.Run("Valid", func(t *testing.T) {
		segments, err := parseSegments("0:2, 2:0 ,0:-1")
		require.NoError(err)
		require.Equal([]sweep.Segment{
			{StartV: 0, EndV: 2},
			{StartV: 2, EndV: 0},
			{StartV: 0, EndV: -1},
		}, segments)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := parseSegments("")
		require.Error(err)
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := parseSegments("0-2")
		require.Error(err)

		_, err = parseSegments("0:two")
		require.Error(err)
	})
}

func TestProtocolFlagsBuild(t *testing.T) {
	require := require.New(t)

	t.Run("Standard Sweep", func(t *testing.T) {
		f := protocolFlags{protocol: "sweep", start: 0, stop: 2, step: 0.5, delay: 0.05, mode: "oneway"}
		p, err := f.build()
		require.NoError(err)
		require.Equal(sweep.KindStandardSweep, p.Kind())

		std, ok := p.(sweep.StandardSweep)
		require.True(ok)
		require.Equal(sweep.OneWay, std.Mode)
		require.Equal(2.0, std.Stop)
	})

	t.Run("Cycle Mode", func(t *testing.T) {
		f := protocolFlags{protocol: "sweep", mode: "cycle", peak: 1.5, cycles: 3, step: 0.5, delay: 0.05}
		p, err := f.build()
		require.NoError(err)

		std, ok := p.(sweep.StandardSweep)
		require.True(ok)
		require.Equal(sweep.SimpleCycle, std.Mode)
		require.Equal(1.5, std.CyclePeak)
		require.Equal(3, std.Cycles)
	})

	t.Run("Custom Sequence", func(t *testing.T) {
		f := protocolFlags{protocol: "custom", segments: "0:1,1:0", step: 0.25, delay: 0.05, cycles: 2}
		p, err := f.build()
		require.NoError(err)
		require.Equal(sweep.KindCustomSequence, p.Kind())
	})

	t.Run("WRER Erase Mirrors Write", func(t *testing.T) {
		f := protocolFlags{protocol: "wrer", writeV: 2, writeTime: 1, readV: 0.2, readTime: 1, interval: 0.5, cycles: 1}
		p, err := f.build()
		require.NoError(err)

		wrer, ok := p.(sweep.WRER)
		require.True(ok)
		require.Equal(-2.0, wrer.EraseV)
		require.Equal(1.0, wrer.EraseTime)
	})

	t.Run("Unknown Protocol", func(t *testing.T) {
		f := protocolFlags{protocol: "noise"}
		_, err := f.build()
		require.Error(err)
	})
}

func TestPlanCommand(t *testing.T) {
	require := require.New(t)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"plan", "--start", "0", "--stop", "1", "--step", "0.5", "--delay", "0.05"})

	require.NoError(cmd.Execute())
	require.Contains(out.String(), "protocol: standard-sweep")
	require.Contains(out.String(), "steps: 3")
}

func TestRunCommandSim(t *testing.T) {
	require := require.New(t)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{
		"run",
		"--start", "0", "--stop", "1", "--step", "0.5", "--delay", "0.02",
		"--compliance-ua", "100",
	})

	require.NoError(cmd.Execute())
	require.Contains(out.String(), "completed")
}
