package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voltlab/go-smu/sweep"
)

// newPlanCmd creates the "smusweep plan" subcommand.
func newPlanCmd() *cobra.Command {
	var flags protocolFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compile a protocol and print its point plan",
		Long:  "Compiles the selected protocol into its ordered voltage plan\nwithout touching an instrument, and prints every planned point.",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := flags.build()
			if err != nil {
				return err
			}

			plan, err := sweep.BuildPlan(p)
			if err != nil {
				return fmt.Errorf("plan: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "protocol: %s, steps: %d, samples: %d, total: %v\n",
				p.Kind(), plan.Len(), plan.SampleCount(), plan.TotalDuration())
			for i, step := range plan.Steps() {
				fmt.Fprintf(out, "%4d  cycle=%d  v=%+.6g V  hold=%v  sample_every=%v\n",
					i, step.Cycle, step.TargetVoltage, step.Hold, step.SampleEvery)
			}

			return nil
		},
	}

	flags.register(cmd)

	return cmd
}
