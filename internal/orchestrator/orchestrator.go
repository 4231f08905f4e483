// Package orchestrator implements the query pipeline that turns one
// Context into a budgeted, formatted set of memories. It composes the
// adapter registry's parallel fan-out (internal/adapterreg), the
// context analyzer's per-memory scoring (internal/contextan), and the
// hybrid search engine (internal/search), reusing the
// reciprocal-rank-fusion formula internal/search.Hybrid already
// implements a second time to merge the analyzer's score ranking with
// the hybrid searcher's score ranking.
package orchestrator

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cortex-memory/cortex/internal/adapterreg"
	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/contextan"
	"github.com/cortex-memory/cortex/internal/record"
	"github.com/cortex-memory/cortex/internal/resilience"
	"github.com/cortex-memory/cortex/internal/search"
)

// Format selects the output rendering in Response.Formatted.
type Format string

const (
	FormatXML      Format = "xml"
	FormatMarkdown Format = "markdown"
	FormatPlain    Format = "plain"
)

// TokenBudget is the triple the glossary names: a global total, a
// per-source cap, and a per-memory cap, all denominated in the
// length(content)/4 token approximation.
type TokenBudget struct {
	Total     int
	PerSource int
	PerMemory int
}

// Filters narrows the final selection, applied after dedup and
// rank.
type Filters struct {
	Types         []record.Type
	ProjectHash   string
	MinConfidence float64
}

// Options configures one Run.
type Options struct {
	Budget     TokenBudget
	Filters    Filters
	Format     Format
	UseHybrid  bool
	HybridOpts search.HybridOptions
	// RRFK is the reciprocal-rank-fusion smoothing constant used to
	// combine the analyzer-score ranking with the hybrid-score
	// ranking.
	RRFK int
}

// Stats reports what the pipeline did: the best achievable result is
// always accompanied by counts naming every source and its outcome.
type Stats struct {
	Queried         int
	Selected        int
	BySource        map[string]int
	EstimatedTokens int
	Duration        time.Duration
	Truncated       bool
}

// Response is what Run returns.
type Response struct {
	Records   []*record.MemoryRecord
	Stats     Stats
	Formatted string
	Adapters  map[string]adapters.Stats
}

// Orchestrator composes the registry, the (optional) hybrid searcher,
// and the degradation manager's capability gate into the pipeline.
type Orchestrator struct {
	registry    *adapterreg.Registry
	hybrid      *search.Hybrid
	degradation *resilience.DegradationManager
	log         *slog.Logger
}

// New constructs an Orchestrator. hybrid and degradation may be nil;
// a nil hybrid disables step 3 entirely, a nil degradation is treated
// as "everything enabled".
func New(registry *adapterreg.Registry, hybrid *search.Hybrid, degradation *resilience.DegradationManager, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{registry: registry, hybrid: hybrid, degradation: degradation, log: log}
}

// Run executes the full pipeline: query all adapters, optionally fuse
// in hybrid search, dedupe, rank, filter, budget, and format.
func (o *Orchestrator) Run(ctx context.Context, qctx adapters.QueryContext, ctxanCtx contextan.Context, opts Options) Response {
	start := time.Now()
	if opts.RRFK <= 0 {
		opts.RRFK = 60
	}

	queryOpts := adapters.QueryOptions{
		ProjectHash:   opts.Filters.ProjectHash,
		MinConfidence: opts.Filters.MinConfidence,
	}
	fanout := o.registry.QueryAll(ctx, qctx, queryOpts)

	contextan.RankMemories(fanout.Results, ctxanCtx)

	var hybridHits []search.FusedHit
	if opts.UseHybrid && o.hybrid != nil && o.capabilityEnabled("hybridSearch") {
		hybridHits = o.hybrid.Search(ctx, ctxanCtx.Prompt, opts.HybridOpts)
	}

	deduped := dedupe(fanout.Results)
	fuseRRF(deduped, hybridHits, opts.RRFK)

	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].RelevanceScore > deduped[j].RelevanceScore
	})

	filtered := applyFilters(deduped, opts.Filters)

	selected, truncated, estTokens := applyBudget(filtered, opts.Budget)

	bySource := make(map[string]int)
	for name := range fanout.Stats {
		bySource[name] = 0
	}
	for _, r := range selected {
		bySource[r.Source]++
	}

	resp := Response{
		Records: selected,
		Stats: Stats{
			Queried:         len(fanout.Results),
			Selected:        len(selected),
			BySource:        bySource,
			EstimatedTokens: estTokens,
			Duration:        time.Since(start),
			Truncated:       truncated,
		},
		Adapters: fanout.Stats,
	}
	resp.Formatted = NormalizeFormat(opts.Format).Render(selected, resp.Stats)
	return resp
}

func (o *Orchestrator) capabilityEnabled(capability string) bool {
	if o.degradation == nil {
		return true
	}
	return o.degradation.IsCapabilityEnabled(capability)
}

// dedupe keeps, for each id, the record with the highest
// _sourcePriority, then highest _relevanceScore, then newest
// UpdatedAt.
func dedupe(recs []*record.MemoryRecord) []*record.MemoryRecord {
	best := make(map[string]*record.MemoryRecord, len(recs))
	order := make([]string, 0, len(recs))
	for _, r := range recs {
		cur, ok := best[r.ID]
		if !ok {
			best[r.ID] = r
			order = append(order, r.ID)
			continue
		}
		if betterDuplicate(r, cur) {
			best[r.ID] = r
		}
	}
	out := make([]*record.MemoryRecord, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}

func betterDuplicate(candidate, current *record.MemoryRecord) bool {
	if candidate.SourcePriority != current.SourcePriority {
		return candidate.SourcePriority > current.SourcePriority
	}
	if candidate.RelevanceScore != current.RelevanceScore {
		return candidate.RelevanceScore > current.RelevanceScore
	}
	return candidate.UpdatedAt.After(current.UpdatedAt)
}

// fuseRRF combines each record's analyzer-score rank with its
// hybrid-search rank (if present) via reciprocal rank fusion,
// overwriting RelevanceScore with the fused value so the caller's
// final sort reflects both signals.
func fuseRRF(recs []*record.MemoryRecord, hybridHits []search.FusedHit, k int) {
	hybridRank := make(map[string]int, len(hybridHits))
	for i, h := range hybridHits {
		hybridRank[h.ID] = i
	}

	// recs already carry an analyzer RelevanceScore from RankMemories;
	// recompute the rank of that ordering to fuse against the hybrid
	// ranking rather than reusing the raw [0,1] score directly.
	analyzerOrder := append([]*record.MemoryRecord(nil), recs...)
	sort.SliceStable(analyzerOrder, func(i, j int) bool {
		return analyzerOrder[i].RelevanceScore > analyzerOrder[j].RelevanceScore
	})
	analyzerRank := make(map[string]int, len(analyzerOrder))
	for i, r := range analyzerOrder {
		analyzerRank[r.ID] = i
	}

	for _, r := range recs {
		fused := 1.0 / float64(k+analyzerRank[r.ID]+1)
		if rank, ok := hybridRank[r.ID]; ok {
			fused += 1.0 / float64(k+rank+1)
		}
		r.RelevanceScore = record.Clamp01(fused)
	}
}

func applyFilters(recs []*record.MemoryRecord, f Filters) []*record.MemoryRecord {
	if len(f.Types) == 0 && f.ProjectHash == "" && f.MinConfidence == 0 {
		return recs
	}
	typeSet := make(map[record.Type]bool, len(f.Types))
	for _, t := range f.Types {
		typeSet[t] = true
	}
	out := make([]*record.MemoryRecord, 0, len(recs))
	for _, r := range recs {
		if len(typeSet) > 0 && !typeSet[r.Type] {
			continue
		}
		if f.ProjectHash != "" && (r.ProjectHash == nil || *r.ProjectHash != f.ProjectHash) {
			continue
		}
		if f.MinConfidence > 0 && r.ExtractionConfidence < f.MinConfidence {
			continue
		}
		out = append(out, r)
	}
	return out
}

// tokensFor approximates a record's token footprint as
// min(len(content)/4, perMemoryCap).
func tokensFor(r *record.MemoryRecord, perMemoryCap int) int {
	t := len(r.Content) / 4
	if perMemoryCap > 0 && t > perMemoryCap {
		t = perMemoryCap
	}
	return t
}

// applyBudget greedily selects the highest-ranked records (recs is
// assumed already sorted descending) while respecting both the
// per-source running total and the global total.
func applyBudget(recs []*record.MemoryRecord, budget TokenBudget) (selected []*record.MemoryRecord, truncated bool, totalTokens int) {
	if budget.Total <= 0 {
		return nil, len(recs) > 0, 0
	}
	bySourceTotal := make(map[string]int)
	for _, r := range recs {
		cost := tokensFor(r, budget.PerMemory)
		if totalTokens+cost > budget.Total {
			truncated = true
			continue
		}
		if budget.PerSource > 0 && bySourceTotal[r.Source]+cost > budget.PerSource {
			truncated = true
			continue
		}
		selected = append(selected, r)
		totalTokens += cost
		bySourceTotal[r.Source] += cost
	}
	return selected, truncated, totalTokens
}
