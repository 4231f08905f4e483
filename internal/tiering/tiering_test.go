package tiering

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/logstore"
	"github.com/cortex-memory/cortex/internal/record"
)

func newStore(t *testing.T, name string) *logstore.Store {
	t.Helper()
	return logstore.New(filepath.Join(t.TempDir(), name+".jsonl"), nil)
}

// A working record aged 24h+60s is promoted to short-term.
func TestPromotionAt24hPlus1m(t *testing.T) {
	now := time.Now()
	working := newStore(t, "working")
	shortTerm := newStore(t, "short-term")
	longTerm := newStore(t, "long-term")

	rec := &record.MemoryRecord{
		ID:        "r1",
		Type:      record.TypeLearning,
		Content:   "seeded record",
		Summary:   "seeded record",
		Status:    record.StatusActive,
		CreatedAt: now.Add(-24*time.Hour - 60*time.Second),
		UpdatedAt: now.Add(-24*time.Hour - 60*time.Second),
	}
	require.NoError(t, working.Append(rec))

	result, err := RunPromotion(Tiers{Working: working, ShortTerm: shortTerm, LongTerm: longTerm}, PromotionOptions{Now: now}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.WorkingToShortTerm)

	assert.Empty(t, working.GetAll())
	active := shortTerm.GetAll()
	require.Len(t, active, 1)
	assert.Equal(t, "working", active[0].PromotedFrom)
}

func TestPromotionShortTermToLongTermRequiresUsefulness(t *testing.T) {
	now := time.Now()
	working := newStore(t, "working")
	shortTerm := newStore(t, "short-term")
	longTerm := newStore(t, "long-term")

	useful := &record.MemoryRecord{
		ID: "useful", Type: record.TypeSkill, Content: "c", Summary: "c",
		Status: record.StatusActive, CreatedAt: now.Add(-8 * 24 * time.Hour),
		UsageCount: 5, UsageSuccessRate: 0.8,
	}
	notUseful := &record.MemoryRecord{
		ID: "not-useful", Type: record.TypeSkill, Content: "c2", Summary: "c2",
		Status: record.StatusActive, CreatedAt: now.Add(-8 * 24 * time.Hour),
		UsageCount: 5, UsageSuccessRate: 0.2,
	}
	require.NoError(t, shortTerm.Append(useful))
	require.NoError(t, shortTerm.Append(notUseful))

	result, err := RunPromotion(Tiers{Working: working, ShortTerm: shortTerm, LongTerm: longTerm}, PromotionOptions{Now: now}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ShortTermToLongTerm)

	longActive := longTerm.GetAll()
	require.Len(t, longActive, 1)
	assert.Equal(t, "useful", longActive[0].ID)

	remaining := shortTerm.GetAll()
	require.Len(t, remaining, 1)
	assert.Equal(t, "not-useful", remaining[0].ID)
}

func TestPromotionArchivesStaleShortTerm(t *testing.T) {
	now := time.Now()
	working := newStore(t, "working")
	shortTerm := newStore(t, "short-term")
	longTerm := newStore(t, "long-term")

	stale := &record.MemoryRecord{
		ID: "stale", Type: record.TypeLearning, Content: "c", Summary: "c",
		Status: record.StatusActive, CreatedAt: now.Add(-29 * 24 * time.Hour),
		UsageSuccessRate: 0.1,
	}
	require.NoError(t, shortTerm.Append(stale))

	result, err := RunPromotion(Tiers{Working: working, ShortTerm: shortTerm, LongTerm: longTerm}, PromotionOptions{Now: now}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Archived)
	assert.Empty(t, shortTerm.GetAll())
	assert.Empty(t, longTerm.GetAll())
}

func TestPromotionDryRunWritesNothing(t *testing.T) {
	now := time.Now()
	working := newStore(t, "working")
	shortTerm := newStore(t, "short-term")
	longTerm := newStore(t, "long-term")

	rec := &record.MemoryRecord{
		ID: "r1", Type: record.TypeLearning, Content: "c", Summary: "c",
		Status: record.StatusActive, CreatedAt: now.Add(-25 * time.Hour),
	}
	require.NoError(t, working.Append(rec))

	result, err := RunPromotion(Tiers{Working: working, ShortTerm: shortTerm, LongTerm: longTerm}, PromotionOptions{DryRun: true, Now: now}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.WorkingToShortTerm)
	assert.True(t, result.DryRun)

	assert.Len(t, working.GetAll(), 1)
	assert.Empty(t, shortTerm.GetAll())
}

func TestConsolidateDuplicates(t *testing.T) {
	longTerm := newStore(t, "long-term")
	now := time.Now()

	mk := func(id string, tags []string, success float64, updated time.Time) *record.MemoryRecord {
		return &record.MemoryRecord{
			ID: id, Type: record.TypePattern, Content: "Use repository pattern",
			Summary: "Use repository pattern", Tags: tags, Status: record.StatusActive,
			CreatedAt: updated, UpdatedAt: updated, UsageCount: 1, UsageSuccessRate: success,
		}
	}
	require.NoError(t, longTerm.Append(mk("a", []string{"a"}, 0.5, now.Add(-3*time.Hour))))
	require.NoError(t, longTerm.Append(mk("b", []string{"b"}, 0.9, now.Add(-2*time.Hour))))
	require.NoError(t, longTerm.Append(mk("c", []string{"a", "c"}, 0.4, now.Add(-1*time.Hour))))

	result, err := RunConsolidation(map[string]*logstore.Store{"long-term": longTerm}, ConsolidationOptions{Now: now})
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)
	assert.Equal(t, "b", result.Groups[0].Keeper.ID)
	assert.ElementsMatch(t, []string{"a", "c"}, result.Groups[0].MergedFrom)

	active := longTerm.Query(func(r *record.MemoryRecord) bool { return r.Status == record.StatusActive })
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, active[0].Tags)
	assert.ElementsMatch(t, []string{"a", "c"}, active[0].MergedFrom)

	deleted := longTerm.Query(func(r *record.MemoryRecord) bool { return r.Status == record.StatusDeleted })
	assert.Len(t, deleted, 2)
}

func TestConsolidatePatternSurfacing(t *testing.T) {
	longTerm := newStore(t, "long-term")
	now := time.Now()
	mk := func(id, content string, tags []string) *record.MemoryRecord {
		return &record.MemoryRecord{
			ID: id, Type: record.TypeLearning, Content: content, Summary: content,
			Tags: tags, Status: record.StatusActive, CreatedAt: now, UpdatedAt: now,
		}
	}
	require.NoError(t, longTerm.Append(mk("1", "one", []string{"docker"})))
	require.NoError(t, longTerm.Append(mk("2", "two", []string{"docker"})))
	require.NoError(t, longTerm.Append(mk("3", "three", []string{"docker"})))
	require.NoError(t, longTerm.Append(mk("4", "four", []string{"go"})))

	result, err := RunConsolidation(map[string]*logstore.Store{"long-term": longTerm}, ConsolidationOptions{Now: now})
	require.NoError(t, err)
	require.Len(t, result.Patterns, 1)
	assert.Equal(t, "docker", result.Patterns[0].Tag)
	assert.Equal(t, 3, result.Patterns[0].Count)
}

func TestConsolidateBoostsUnusedRecordsViaConfidence(t *testing.T) {
	longTerm := newStore(t, "long-term")
	now := time.Now()

	mk := func(id string, confidence float64, updated time.Time) *record.MemoryRecord {
		return &record.MemoryRecord{
			ID: id, Type: record.TypePattern, Content: "Prefer context timeouts",
			Summary: "Prefer context timeouts", Status: record.StatusActive,
			CreatedAt: updated, UpdatedAt: updated, ExtractionConfidence: confidence,
		}
	}
	require.NoError(t, longTerm.Append(mk("a", 0.7, now.Add(-2*time.Hour))))
	require.NoError(t, longTerm.Append(mk("b", 0.6, now.Add(-1*time.Hour))))

	result, err := RunConsolidation(map[string]*logstore.Store{"long-term": longTerm}, ConsolidationOptions{Now: now})
	require.NoError(t, err)
	require.Len(t, result.Groups, 1)

	keeper := result.Groups[0].Keeper
	assert.Equal(t, "a", keeper.ID)
	// No usage history, so the merge boost must land on the field
	// Usefulness() reads for unused records.
	assert.InDelta(t, 0.75, keeper.ExtractionConfidence, 1e-9)
	assert.Greater(t, keeper.Usefulness(), 0.7)
	assert.Zero(t, keeper.UsageSuccessRate)
}
