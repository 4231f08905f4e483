package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortex-memory/cortex/internal/app"
)

var (
	bootstrapSeed  bool
	bootstrapForce bool
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the directory layout and empty tier files",
	RunE: func(cmd *cobra.Command, args []string) error {
		base := flagBase
		if base == "" {
			base = app.DefaultBase()
		}
		layout := app.Layout{Base: base}
		if err := layout.Bootstrap(bootstrapForce); err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		if err := a.ApplyTomlOverride(); err != nil {
			return err
		}
		if _, err := os.Stat(layout.ConfigPath()); os.IsNotExist(err) {
			if err := a.Config.Reset("bootstrap"); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Initialized %s\n", base)

		if bootstrapSeed {
			n, err := a.SeedFromMarkdown()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Seeded %d records from curated markdown\n", n)
		}
		return nil
	},
}

func init() {
	bootstrapCmd.Flags().BoolVar(&bootstrapSeed, "seed", false,
		"parse curated markdown into the working tier")
	bootstrapCmd.Flags().BoolVar(&bootstrapForce, "force", false,
		"truncate existing tier files")
	rootCmd.AddCommand(bootstrapCmd)
}
