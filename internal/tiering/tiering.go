// Package tiering implements the record lifecycle across tier files:
// promotion sweeps that age records from working to short-term to
// long-term (or archive them outright), consolidation of
// near-duplicates, and read-only pattern surfacing over tag
// frequency, built on internal/logstore's Append/SoftDelete/Compact
// primitives.
package tiering

import (
	"log/slog"
	"sort"
	"time"

	"github.com/cortex-memory/cortex/internal/logstore"
	"github.com/cortex-memory/cortex/internal/record"
)

const (
	workingMaxAge    = 24 * time.Hour
	shortTermMinAge  = 7 * 24 * time.Hour
	shortTermMaxAge  = 28 * 24 * time.Hour
	usefulnessFloor  = 0.6
	usefulnessBoost  = 0.05
	duplicateSummary = 100
)

// Tiers bundles the stores promotion and consolidation operate across.
// LongTerm also receives skills and per-project writes elsewhere, but
// promotion itself only ever moves working -> shortTerm -> longTerm or
// archives out of shortTerm.
type Tiers struct {
	Working   *logstore.Store
	ShortTerm *logstore.Store
	LongTerm  *logstore.Store
}

// PromotionOptions configures one sweep.
type PromotionOptions struct {
	DryRun bool
	Now    time.Time
}

// PromotionPlan is one record's computed fate, used both to apply a
// real sweep and to report a dry-run's counts.
type PromotionPlan struct {
	Record *record.MemoryRecord
	From   string
	To     string // "" for archive (no destination tier)
}

// PromotionResult summarizes a sweep.
type PromotionResult struct {
	WorkingToShortTerm int
	ShortTermToLongTerm int
	Archived            int
	DryRun              bool
}

// RunPromotion sweeps Working and ShortTerm, migrating or archiving
// aged records. Only records whose CreatedAt precedes opts.Now are
// considered, so records written by a concurrent session mid-sweep
// wait for the next run.
func RunPromotion(tiers Tiers, opts PromotionOptions, log *slog.Logger) (PromotionResult, error) {
	if log == nil {
		log = slog.Default()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	plans := planPromotion(tiers, now)
	result := PromotionResult{DryRun: opts.DryRun}
	for _, p := range plans {
		switch {
		case p.From == "working" && p.To == "shortTerm":
			result.WorkingToShortTerm++
		case p.From == "shortTerm" && p.To == "longTerm":
			result.ShortTermToLongTerm++
		case p.To == "":
			result.Archived++
		}
	}
	if opts.DryRun {
		log.Info("tiering: dry-run promotion sweep",
			"workingToShortTerm", result.WorkingToShortTerm,
			"shortTermToLongTerm", result.ShortTermToLongTerm,
			"archived", result.Archived)
		return result, nil
	}

	for _, p := range plans {
		if err := applyPromotion(tiers, p, now); err != nil {
			return result, err
		}
	}

	if _, err := tiers.Working.Compact(logstore.CompactOptions{RemoveDeleted: true}); err != nil {
		return result, err
	}
	if _, err := tiers.ShortTerm.Compact(logstore.CompactOptions{RemoveDeleted: true}); err != nil {
		return result, err
	}
	log.Info("tiering: promotion sweep applied",
		"workingToShortTerm", result.WorkingToShortTerm,
		"shortTermToLongTerm", result.ShortTermToLongTerm,
		"archived", result.Archived)
	return result, nil
}

func planPromotion(tiers Tiers, now time.Time) []PromotionPlan {
	var plans []PromotionPlan

	for _, r := range tiers.Working.GetAll() {
		if !r.CreatedAt.Before(now) {
			continue
		}
		if now.Sub(r.CreatedAt) > workingMaxAge {
			plans = append(plans, PromotionPlan{Record: r, From: "working", To: "shortTerm"})
		}
	}
	for _, r := range tiers.ShortTerm.GetAll() {
		if !r.CreatedAt.Before(now) {
			continue
		}
		age := now.Sub(r.CreatedAt)
		switch {
		case age > shortTermMinAge && r.Usefulness() >= usefulnessFloor:
			plans = append(plans, PromotionPlan{Record: r, From: "shortTerm", To: "longTerm"})
		case age > shortTermMaxAge:
			plans = append(plans, PromotionPlan{Record: r, From: "shortTerm", To: ""})
		}
	}
	return plans
}

func applyPromotion(tiers Tiers, p PromotionPlan, now time.Time) error {
	switch {
	case p.From == "working" && p.To == "shortTerm":
		return migrate(tiers.Working, tiers.ShortTerm, p.Record, "working", now)
	case p.From == "shortTerm" && p.To == "longTerm":
		return migrate(tiers.ShortTerm, tiers.LongTerm, p.Record, "shortTerm", now)
	case p.To == "":
		return tiers.ShortTerm.SoftDelete(p.Record.ID, now)
	}
	return nil
}

// migrate appends rec to dst with promotion provenance stamped, then
// soft-deletes it from src. Ownership transfers append-first: the
// soft-delete in the old tier is durable before compaction removes the
// original.
func migrate(src, dst *logstore.Store, rec *record.MemoryRecord, fromTier string, now time.Time) error {
	cp := *rec
	cp.PromotedFrom = fromTier
	cp.PromotedAt = &now
	cp.UpdatedAt = now
	if err := dst.Append(&cp); err != nil {
		return err
	}
	return src.SoftDelete(rec.ID, now)
}

// ConsolidationOptions configures one consolidation pass.
type ConsolidationOptions struct {
	DryRun bool
	Now    time.Time
}

// MergeGroup is one duplicate-key cluster's outcome.
type MergeGroup struct {
	Key        string
	Keeper     *record.MemoryRecord
	MergedFrom []string
}

// ConsolidationResult summarizes a pass.
type ConsolidationResult struct {
	Groups  []MergeGroup
	Patterns []Pattern
	DryRun  bool
}

// Pattern is one recurring tag surfaced by ConsolidationResult.
type Pattern struct {
	Tag   string
	Count int
}

// storeRef pairs a store with the tier name recorded against its
// records, so the non-keeper soft-deletes land in whichever tier they
// actually live in.
type storeRef struct {
	name  string
	store *logstore.Store
}

// RunConsolidation groups every active record across stores by
// DuplicateKey, merges each group into its keeper, and surfaces
// recurring tags (count >= 3) as patterns. DryRun computes and reports
// without writing.
func RunConsolidation(stores map[string]*logstore.Store, opts ConsolidationOptions) (ConsolidationResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	refs := make([]storeRef, 0, len(stores))
	for name, s := range stores {
		refs = append(refs, storeRef{name: name, store: s})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].name < refs[j].name })

	type located struct {
		rec   *record.MemoryRecord
		store string
	}
	groups := make(map[string][]located)
	var keys []string
	tagCount := make(map[string]int)

	for _, ref := range refs {
		for _, r := range ref.store.GetAll() {
			if r.Status == record.StatusDeleted {
				continue
			}
			key := r.DuplicateKey()
			if _, ok := groups[key]; !ok {
				keys = append(keys, key)
			}
			groups[key] = append(groups[key], located{rec: r, store: ref.name})
			for _, t := range r.Tags {
				tagCount[t]++
			}
		}
	}
	sort.Strings(keys)

	result := ConsolidationResult{DryRun: opts.DryRun}
	for _, key := range keys {
		members := groups[key]
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			ui, uj := members[i].rec.Usefulness(), members[j].rec.Usefulness()
			if ui != uj {
				return ui > uj
			}
			return members[i].rec.UpdatedAt.After(members[j].rec.UpdatedAt)
		})
		keeper := members[0].rec
		var mergedFrom []string
		tagSet := make(map[string]bool)
		for _, t := range keeper.Tags {
			tagSet[t] = true
		}
		for _, m := range members[1:] {
			mergedFrom = append(mergedFrom, m.rec.ID)
			for _, t := range m.rec.Tags {
				tagSet[t] = true
			}
		}

		mergedKeeper := *keeper
		union := make([]string, 0, len(tagSet))
		for t := range tagSet {
			union = append(union, t)
		}
		sort.Strings(union)
		mergedKeeper.Tags = union
		// Boost whichever field Usefulness() actually reads: records
		// with no usage history yet are scored by extraction
		// confidence, so boosting the success rate there would be
		// invisible.
		boost := usefulnessBoost * float64(len(members)-1)
		if mergedKeeper.UsageCount > 0 {
			mergedKeeper.UsageSuccessRate = record.Clamp01(mergedKeeper.UsageSuccessRate + boost)
		} else {
			mergedKeeper.ExtractionConfidence = record.Clamp01(mergedKeeper.ExtractionConfidence + boost)
		}
		mergedKeeper.MergedFrom = append(append([]string(nil), mergedKeeper.MergedFrom...), mergedFrom...)
		mergedKeeper.UpdatedAt = now

		result.Groups = append(result.Groups, MergeGroup{Key: key, Keeper: &mergedKeeper, MergedFrom: mergedFrom})

		if opts.DryRun {
			continue
		}
		keeperStore := stores[members[0].store]
		if err := keeperStore.Update(&mergedKeeper); err != nil {
			return result, err
		}
		for _, m := range members[1:] {
			memberStore := stores[m.store]
			if err := memberStore.SoftDelete(m.rec.ID, now); err != nil {
				return result, err
			}
		}
	}

	for tag, count := range tagCount {
		if count >= 3 {
			result.Patterns = append(result.Patterns, Pattern{Tag: tag, Count: count})
		}
	}
	sort.Slice(result.Patterns, func(i, j int) bool {
		if result.Patterns[i].Count != result.Patterns[j].Count {
			return result.Patterns[i].Count > result.Patterns[j].Count
		}
		return result.Patterns[i].Tag < result.Patterns[j].Tag
	})

	if !opts.DryRun {
		// Merged-away duplicates stay in their files as deleted records;
		// this rewrite does not remove them.
		for _, ref := range refs {
			if _, err := ref.store.Compact(logstore.CompactOptions{}); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}
