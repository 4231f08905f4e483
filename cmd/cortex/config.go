package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and mutate the versioned configuration",
}

var configGetCmd = &cobra.Command{
	Use:   "get <dot.path>",
	Short: "Print one config value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		v := a.Config.Get(args[0], nil)
		if v == nil {
			return fmt.Errorf("no value at %q", args[0])
		}
		out, err := json.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var configSetReason string

var configSetCmd = &cobra.Command{
	Use:   "set <dot.path> <value>",
	Short: "Set one config value (snapshotting the prior document)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		return a.Config.Set(args[0], coerceValue(args[1]), configSetReason)
	},
}

// coerceValue interprets a CLI string as bool, number, or string, in
// that order, so `config set sessionStart.enabled false` stores a bool.
func coerceValue(s string) any {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

var configHistoryLimit int

var configHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List config history snapshots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		entries, err := a.Config.GetHistory(configHistoryLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range entries {
			fmt.Fprintf(out, "%s  %s  %s\n", e.ID, e.Timestamp.Format("2006-01-02 15:04:05"), e.Reason)
		}
		return nil
	},
}

var configRollbackCmd = &cobra.Command{
	Use:   "rollback <history-id>",
	Short: "Restore the config document from a history snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		if err := a.Config.Rollback(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back to %s\n", args[0])
		return nil
	},
}

func init() {
	configSetCmd.Flags().StringVar(&configSetReason, "reason", "cli", "reason recorded in history")
	configHistoryCmd.Flags().IntVar(&configHistoryLimit, "limit", 10, "entries to list")
	configCmd.AddCommand(configGetCmd, configSetCmd, configHistoryCmd, configRollbackCmd)
	rootCmd.AddCommand(configCmd)
}
