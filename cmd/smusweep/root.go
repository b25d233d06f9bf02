package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/voltlab/go-smu/sweep"
)

const version = "0.3.0"

// newRootCmd creates the root smusweep command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "smusweep",
		Short:         "Source-measure sweep sequencer",
		Long:          "smusweep compiles and executes voltage sweep protocols\n(standard sweep, custom sequence, WRER) against an SMU channel.",
		Version:       fmt.Sprintf("smusweep %s", version),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(
		newPlanCmd(),
		newRunCmd(),
	)

	return cmd
}

// protocolFlags holds the protocol selection flags shared by plan and run.
type protocolFlags struct {
	protocol string

	start  float64
	stop   float64
	step   float64
	delay  float64
	mode   string
	peak   float64
	cycles int

	segments string

	writeV    float64
	writeTime float64
	readV     float64
	readTime  float64
	interval  float64
}

func (f *protocolFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.protocol, "protocol", "sweep", "protocol: sweep, custom, or wrer")

	flags.Float64Var(&f.start, "start", 0, "sweep start voltage (V)")
	flags.Float64Var(&f.stop, "stop", 1, "sweep stop voltage (V)")
	flags.Float64Var(&f.step, "step", 0.1, "voltage step magnitude (V)")
	flags.Float64Var(&f.delay, "delay", 0.05, "dwell per point (s)")
	flags.StringVar(&f.mode, "mode", "oneway", "sweep mode: oneway or cycle")
	flags.Float64Var(&f.peak, "peak", 1, "cycle peak voltage (V, cycle mode)")
	flags.IntVar(&f.cycles, "cycles", 1, "number of cycles")

	flags.StringVar(&f.segments, "segments", "", `custom segments, e.g. "0:2,2:0,0:-1"`)

	flags.Float64Var(&f.writeV, "write-v", 2, "WRER write voltage (V)")
	flags.Float64Var(&f.writeTime, "write-time", 1, "WRER write duration (s)")
	flags.Float64Var(&f.readV, "read-v", 0.2, "WRER read voltage (V)")
	flags.Float64Var(&f.readTime, "read-time", 1, "WRER read duration (s)")
	flags.Float64Var(&f.interval, "interval", 0.1, "WRER sampling interval (s)")
}

// build converts the flags into a protocol value.
func (f *protocolFlags) build() (sweep.Protocol, error) {
	switch strings.ToLower(f.protocol) {
	case "sweep":
		mode := sweep.OneWay
		if strings.ToLower(f.mode) == "cycle" {
			mode = sweep.SimpleCycle
		}
		return sweep.StandardSweep{
			Start:     f.start,
			Stop:      f.stop,
			Step:      f.step,
			Delay:     f.delay,
			Mode:      mode,
			CyclePeak: f.peak,
			Cycles:    f.cycles,
		}, nil

	case "custom":
		segments, err := parseSegments(f.segments)
		if err != nil {
			return nil, err
		}
		return sweep.CustomSequence{
			Segments: segments,
			Step:     f.step,
			Delay:    f.delay,
			Cycles:   f.cycles,
		}, nil

	case "wrer":
		return sweep.WRER{
			WriteV:           f.writeV,
			WriteTime:        f.writeTime,
			ReadV:            f.readV,
			ReadTime:         f.readTime,
			EraseV:           -f.writeV,
			EraseTime:        f.writeTime,
			Cycles:           f.cycles,
			SamplingInterval: f.interval,
		}, nil

	default:
		return nil, fmt.Errorf("unknown protocol %q (expected sweep, custom, or wrer)", f.protocol)
	}
}

// parseSegments parses "start:end,start:end,..." voltage pairs.
func parseSegments(raw string) ([]sweep.Segment, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("custom protocol requires --segments")
	}

	var segments []sweep.Segment
	for _, part := range strings.Split(raw, ",") {
		startStr, endStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("segment %q must be start:end", part)
		}
		start, err := strconv.ParseFloat(strings.TrimSpace(startStr), 64)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", part, err)
		}
		end, err := strconv.ParseFloat(strings.TrimSpace(endStr), 64)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", part, err)
		}
		segments = append(segments, sweep.Segment{StartV: start, EndV: end})
	}

	return segments, nil
}
