package main

import (
	"github.com/spf13/cobra"

	"github.com/cortex-memory/cortex/internal/app"
)

var (
	flagBase       string
	flagMarkdown   []string
	flagTerminalDB []string
	flagMetrics    bool
)

var rootCmd = &cobra.Command{
	Use:   "cortex",
	Short: "Persistent cross-session memory for an AI coding assistant",
	Long: `cortex maintains tiered, searchable memory across assistant sessions:
it ingests records from local logs, conversation archives, a knowledge
graph, curated markdown, and terminal history, ranks them against the
current context, and injects a token-budgeted summary at session start.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagBase, "base", "",
		"base directory (default ~/.claude/memory)")
	rootCmd.PersistentFlags().StringSliceVar(&flagMarkdown, "markdown", nil,
		"curated markdown file(s) to read as a memory source")
	rootCmd.PersistentFlags().StringSliceVar(&flagTerminalDB, "terminal-db", nil,
		"terminal history database path(s)")
	rootCmd.PersistentFlags().BoolVar(&flagMetrics, "metrics", false,
		"emit OpenTelemetry metrics to stdout on exit")
}

// openApp assembles the full application from the persistent flags.
func openApp() (*app.App, error) {
	return app.Open(app.Options{
		Base:            flagBase,
		MarkdownPaths:   flagMarkdown,
		TerminalDBPaths: flagTerminalDB,
		Telemetry:       flagMetrics,
	})
}
