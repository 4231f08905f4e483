package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortex-memory/cortex/internal/tiering"
)

var consolidateDryRun bool

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Merge near-duplicate records and surface recurring tag patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		opts := tiering.ConsolidationOptions{DryRun: consolidateDryRun, Now: time.Now()}
		var result tiering.ConsolidationResult
		run := func() error {
			var rerr error
			result, rerr = tiering.RunConsolidation(a.Tiers, opts)
			return rerr
		}
		if consolidateDryRun {
			err = run()
		} else {
			err = a.Locks.WithLock("consolidation", "cortex consolidate",
				5*time.Minute, 30*time.Second, 250*time.Millisecond, run)
		}
		if err != nil {
			return err
		}

		merged := 0
		for _, g := range result.Groups {
			merged += len(g.MergedFrom)
		}
		if !consolidateDryRun {
			a.Telemetry.RecordConsolidations(cmd.Context(), int64(merged))
		}

		mode := ""
		if result.DryRun {
			mode = " (dry run)"
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Consolidation%s: %d groups, %d records merged away\n",
			mode, len(result.Groups), merged)
		for _, g := range result.Groups {
			fmt.Fprintf(out, "  keep %s  merged %v\n", g.Keeper.ID, g.MergedFrom)
		}
		if len(result.Patterns) > 0 {
			pats := append([]tiering.Pattern(nil), result.Patterns...)
			sort.Slice(pats, func(i, j int) bool {
				if pats[i].Count != pats[j].Count {
					return pats[i].Count > pats[j].Count
				}
				return pats[i].Tag < pats[j].Tag
			})
			fmt.Fprintln(out, "Recurring patterns:")
			for _, p := range pats {
				fmt.Fprintf(out, "  %-20s x%d\n", p.Tag, p.Count)
			}
		}
		return nil
	},
}

func init() {
	consolidateCmd.Flags().BoolVar(&consolidateDryRun, "dry-run", false,
		"compute and report merges without writing")
	rootCmd.AddCommand(consolidateCmd)
}
