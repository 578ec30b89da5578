// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package run

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/luxfi/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func Command() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Drives an in-process committee to finality",
		RunE:  runFunc,
	}
	flags := c.Flags()
	AddFlags(flags)
	return c
}

func runFunc(c *cobra.Command, args []string) error {
	config, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}

	logger := log.NewNoOpLogger()
	if config.Verbose {
		logger = log.NewLogger("asfsim")
	}

	result, err := Simulate(c.Context(), logger, config)
	if err != nil {
		return err
	}
	logger.Info("simulation complete",
		log.Int("blocks", len(result.Blocks)),
		log.Int("finalized", result.FinalizedCount()),
		zap.Float64("riskLevel", result.Tracker.RiskLevel),
	)
	return Print(c.OutOrStdout(), result)
}

// Print writes a per-block table followed by the Byzantine summary.
func Print(w io.Writer, result Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BLOCK\tHASH\tPROPOSER\tFINALIZED\tLEVEL\tREJECTED")
	for _, b := range result.Blocks {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%d\n",
			b.Number, b.Hash, b.Proposer, b.Finalized, b.Level, b.Rejected)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nfinalized %d/%d blocks\n", result.FinalizedCount(), len(result.Blocks))
	fmt.Fprintf(w, "byzantine: %v\n", result.Byzantine)
	fmt.Fprintf(w, "excluded:  %v\n", result.Excluded)
	fmt.Fprintf(w, "slashed:   %v\n", result.Slashed)
	fmt.Fprintf(w, "participation mean %.2f stddev %.2f, risk level %.2f, threshold exceeded %t\n",
		result.Tracker.MeanParticipation,
		result.Tracker.StdDevParticipation,
		result.Tracker.RiskLevel,
		result.Tracker.ThresholdExceeded,
	)
	return nil
}
