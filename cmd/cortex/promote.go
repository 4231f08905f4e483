package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortex-memory/cortex/internal/tiering"
)

var promoteDryRun bool

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Run a tier promotion sweep (working -> short-term -> long-term)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		opts := tiering.PromotionOptions{DryRun: promoteDryRun, Now: time.Now()}
		var result tiering.PromotionResult
		run := func() error {
			var rerr error
			result, rerr = tiering.RunPromotion(a.PromotionTiers(), opts, a.Log)
			return rerr
		}
		if promoteDryRun {
			// Reads only; no lock needed.
			err = run()
		} else {
			err = a.Locks.WithLock("tier-promotion", "cortex promote",
				5*time.Minute, 30*time.Second, 250*time.Millisecond, run)
		}
		if err != nil {
			return err
		}

		if !promoteDryRun {
			a.Telemetry.RecordPromotions(cmd.Context(), "working", "short-term", int64(result.WorkingToShortTerm))
			a.Telemetry.RecordPromotions(cmd.Context(), "short-term", "long-term", int64(result.ShortTermToLongTerm))
		}

		mode := ""
		if result.DryRun {
			mode = " (dry run)"
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Promotion sweep%s:\n", mode)
		fmt.Fprintf(out, "  working    -> short-term: %d\n", result.WorkingToShortTerm)
		fmt.Fprintf(out, "  short-term -> long-term:  %d\n", result.ShortTermToLongTerm)
		fmt.Fprintf(out, "  archived:                 %d\n", result.Archived)
		return nil
	},
}

func init() {
	promoteCmd.Flags().BoolVar(&promoteDryRun, "dry-run", false,
		"compute and report the sweep without writing")
	rootCmd.AddCommand(promoteCmd)
}
