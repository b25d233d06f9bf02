package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voltlab/go-smu/config"
	"github.com/voltlab/go-smu/datalog"
	"github.com/voltlab/go-smu/instrument"
	"github.com/voltlab/go-smu/logger"
	"github.com/voltlab/go-smu/sweep"
)

// newRunCmd creates the "smusweep run" subcommand.
func newRunCmd() *cobra.Command {
	var (
		flags         protocolFlags
		configPath    string
		timing        string
		complianceUA  float64
		confirmHighV  bool
		output        string
		appendOutput  bool
		simResistance float64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a protocol against the simulated SMU channel",
		Long: "Compiles and executes the selected protocol on the built-in\n" +
			"resistive simulator, streaming samples to stdout and optionally\n" +
			"to a CSV file. Ctrl-C aborts the run and zeroes the output.",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.Default()
			if configPath != "" {
				var err error
				settings, err = config.Load(configPath)
				if err != nil {
					return err
				}
			}

			p, err := flags.build()
			if err != nil {
				return err
			}

			mode := sweep.HostPaced
			if strings.ToLower(timing) == "device" {
				mode = sweep.DevicePaced
			}

			log := logger.NewSlog(settings.LogLevel, true)
			cfg, err := sweep.NewConfig(append(settings.Options(), sweep.WithLogger(log))...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sim := instrument.NewSim(simResistance)
			ctrl, err := sweep.NewController(ctx, sim, cfg)
			if err != nil {
				return err
			}
			defer ctrl.Close()

			if err := ctrl.SetCompliance(complianceUA); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ctrl.AddObserver(printObserver{out: out})

			decision := sweep.FileOverwrite
			if appendOutput {
				decision = sweep.FileAppend
			}
			if output != "" {
				csvLog := datalog.NewCSVLogger(log)
				csvLog.SetMetadata(settings.SampleName, settings.Operator, "")
				if err := csvLog.SetOutputFile(output, decision); err != nil {
					return err
				}
				ctrl.AddObserver(csvLog)
			}

			run, err := ctrl.Start(ctx, p, sweep.WithTimingMode(mode), sweep.WithFileDecision(decision))
			if err != nil {
				return err
			}

			if confirmHighV {
				go func() {
					for run.AwaitingConfirmation() || ctrl.State().IsArmed() {
						if err := ctrl.Confirm(); err == nil {
							return
						}
						select {
						case <-run.Done():
							return
						case <-time.After(10 * time.Millisecond):
						}
					}
				}()
			}

			status, runErr := run.Wait(context.Background())
			fmt.Fprintf(out, "run %s: %s (%d samples)\n", run.ID(), status, len(run.Samples()))
			if runErr != nil {
				return fmt.Errorf("run: %w", runErr)
			}

			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&configPath, "config", "", "path to engine config.toml")
	cmd.Flags().StringVar(&timing, "timing", "host", "timing discipline: host or device")
	cmd.Flags().Float64Var(&complianceUA, "compliance-ua", 100, "current compliance (uA)")
	cmd.Flags().BoolVar(&confirmHighV, "confirm-high-voltage", false, "auto-confirm the high-voltage gate")
	cmd.Flags().StringVar(&output, "output", "", "CSV output file")
	cmd.Flags().BoolVar(&appendOutput, "append", false, "append to the output file instead of overwriting")
	cmd.Flags().Float64Var(&simResistance, "sim-resistance", 1e6, "simulated device resistance (ohm)")

	return cmd
}

// printObserver streams each sample as a text row.
type printObserver struct {
	out io.Writer
}

func (p printObserver) RunStarted(info sweep.RunInfo) {
	fmt.Fprintf(p.out, "# run %s (%s), expecting %d samples\n", info.ID, info.Kind, info.Samples)
}

func (p printObserver) HandleSample(s sweep.Sample) {
	fmt.Fprintf(p.out, "%6d  cycle=%d  t=%8.3fs  v=%+.6g V  i=%.6e A\n",
		s.Index, s.Cycle, s.Elapsed.Seconds(), s.Voltage, s.Current)
}

func (p printObserver) RunFinished(info sweep.RunInfo, status sweep.RunStatus, err error) {}
