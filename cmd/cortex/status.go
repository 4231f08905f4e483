package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the installation layout, tier counts, and adapter availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Base directory: %s\n\n", a.Layout.Base)

		fmt.Fprintln(out, "Tiers:")
		counts := a.TierCounts()
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-12s %d records  (%s)\n", name, counts[name], a.Tiers[name].Path())
		}

		fmt.Fprintln(out, "\nAdapters:")
		probeCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		for _, ad := range a.Registry.GetAll() {
			avail := "unavailable"
			if ad.IsAvailable(probeCtx) {
				avail = "available"
			}
			state := "enabled"
			if !ad.Enabled() {
				state = "disabled"
			}
			fmt.Fprintf(out, "  %-22s priority %.2f  timeout %s  %s, %s\n",
				ad.Name(), ad.Priority(), ad.Timeout(), state, avail)
		}

		fmt.Fprintf(out, "\nDegradation level: %s\n", a.Degradation.Level())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
