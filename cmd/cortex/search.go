package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/contextan"
	"github.com/cortex-memory/cortex/internal/orchestrator"
	"github.com/cortex-memory/cortex/internal/record"
	"github.com/cortex-memory/cortex/internal/search"
)

var (
	searchType   string
	searchSource string
	searchLimit  int
	searchFormat string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank stored memories against a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		if searchSource != "" {
			found := false
			for _, ad := range a.Registry.GetAll() {
				if ad.Name() == searchSource {
					found = true
				} else {
					a.Registry.SetEnabled(ad.Name(), false)
				}
			}
			if !found {
				return fmt.Errorf("unknown source %q", searchSource)
			}
		}

		workingDir := os.Getenv("CORTEX_WORKING_DIR")
		if workingDir == "" {
			workingDir, _ = os.Getwd()
		}
		cctx := contextan.Build(args[0], workingDir, nil)
		qctx := adapters.QueryContext{
			ProjectHash:      cctx.ProjectHash,
			Intent:           cctx.Intent.Primary,
			IntentConfidence: cctx.Intent.Confidence,
			Tags:             cctx.Tags,
			Domains:          cctx.Domains,
		}

		total := intFromConfig(a.Config.Get("sessionStart.slots.maxTokens", 2000))
		hybridOpts := search.HybridOptions{
			K:            intFromConfig(a.Config.Get("vectorSearch.rrfK", 60)),
			VectorWeight: floatFromConfig(a.Config.Get("vectorSearch.vectorWeight", 0.6)),
			BM25Weight:   floatFromConfig(a.Config.Get("vectorSearch.bm25Weight", 0.4)),
			MinScore:     floatFromConfig(a.Config.Get("vectorSearch.minScore", 0.0)),
			TopK:         20,
		}
		opts := orchestrator.Options{
			Budget: orchestrator.TokenBudget{Total: total, PerSource: total, PerMemory: 512},
			Format: orchestrator.FormatPlain,
			// Hybrid search stays local: it only covers the tier
			// stores, so it composes with any --source restriction
			// except one that excludes local-log entirely.
			UseHybrid:  searchSource == "" || searchSource == "local-log",
			HybridOpts: hybridOpts,
		}
		if searchType != "" {
			opts.Filters.Types = []record.Type{record.Type(searchType)}
		}

		resp := a.Orch.Run(cmd.Context(), qctx, cctx, opts)

		recs := resp.Records
		if searchLimit > 0 && len(recs) > searchLimit {
			recs = recs[:searchLimit]
		}

		out := cmd.OutOrStdout()
		switch searchFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Results []*record.MemoryRecord           `json:"results"`
				Stats   orchestrator.Stats               `json:"stats"`
				Sources map[string]adapters.Stats        `json:"sources"`
			}{recs, resp.Stats, resp.Adapters})
		case "plain":
			fmt.Fprint(out, resp.Formatted)
		case "table", "":
			fmt.Fprintf(out, "%-28s %-11s %-6s %s\n", "ID", "TYPE", "SCORE", "SUMMARY")
			for _, r := range recs {
				fmt.Fprintf(out, "%-28s %-11s %.3f  %s\n", truncate(r.ID, 28), r.Type, r.RelevanceScore, r.Summary)
			}
			fmt.Fprintf(out, "\n%d of %d matched, ~%d tokens in %s\n",
				len(recs), resp.Stats.Queried, resp.Stats.EstimatedTokens, resp.Stats.Duration.Round(time.Millisecond))
		default:
			return fmt.Errorf("unknown format %q (want table, json, or plain)", searchFormat)
		}
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func intFromConfig(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	default:
		return 0
	}
}

func floatFromConfig(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	default:
		return 0
	}
}

func init() {
	searchCmd.Flags().StringVar(&searchType, "type", "", "restrict to one record type")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "restrict to one adapter by name")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "cap the number of printed results")
	searchCmd.Flags().StringVar(&searchFormat, "format", "table", "output format: table, json, or plain")
	rootCmd.AddCommand(searchCmd)
}
