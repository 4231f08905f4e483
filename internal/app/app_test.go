package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/contextan"
	"github.com/cortex-memory/cortex/internal/orchestrator"
	"github.com/cortex-memory/cortex/internal/record"
)

func openTestApp(t *testing.T) *App {
	t.Helper()
	base := t.TempDir()
	require.NoError(t, Layout{Base: base}.Bootstrap(false))
	a, err := Open(Options{Base: base})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestBootstrapFromEmpty(t *testing.T) {
	a := openTestApp(t)

	counts := a.TierCounts()
	require.Len(t, counts, 5)
	for tier, n := range counts {
		assert.Zero(t, n, "tier %s should start empty", tier)
	}

	cctx := contextan.Build("anything", a.Layout.Base, nil)
	resp := a.Orch.Run(context.Background(), adapters.QueryContext{}, cctx, orchestrator.Options{
		Budget: orchestrator.TokenBudget{Total: 2000, PerSource: 2000, PerMemory: 512},
	})
	assert.Empty(t, resp.Records)
	// Every registered adapter reports a zero count even when it
	// produced nothing.
	for _, name := range []string{"local-log", "conversation-archive", "knowledge-graph", "curated-markdown", "terminal-history"} {
		n, ok := resp.Stats.BySource[name]
		assert.True(t, ok, "missing source %s in stats", name)
		assert.Zero(t, n)
	}
}

func TestWriteThenQuery(t *testing.T) {
	a := openTestApp(t)

	now := time.Now()
	rec := &record.MemoryRecord{
		ID:              "jsonl:w1",
		Type:            record.TypeLearning,
		Content:         "Use git pull --rebase to keep history linear",
		Tags:            []string{"git"},
		Intent:          record.IntentWorkflow,
		SourceTimestamp: now,
		Status:          record.StatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, a.EnqueueRecord(context.Background(), "working", rec))

	cctx := contextan.Build("what is our git workflow", a.Layout.Base, nil)
	qctx := adapters.QueryContext{
		Intent:           cctx.Intent.Primary,
		IntentConfidence: cctx.Intent.Confidence,
		Tags:             []string{"git"},
	}
	resp := a.Orch.Run(context.Background(), qctx, cctx, orchestrator.Options{
		Budget: orchestrator.TokenBudget{Total: 2000, PerSource: 2000, PerMemory: 512},
	})

	require.Len(t, resp.Records, 1)
	assert.Equal(t, "jsonl:w1", resp.Records[0].ID)
	assert.Greater(t, resp.Records[0].RelevanceScore, 0.0)
	assert.Equal(t, 1, resp.Stats.BySource["local-log"])
}

func TestWriteIsDurableAcrossReopen(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, Layout{Base: base}.Bootstrap(false))

	a, err := Open(Options{Base: base})
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, a.EnqueueRecord(context.Background(), "working", &record.MemoryRecord{
		ID: "jsonl:w2", Type: record.TypeLearning, Content: "remember this",
		SourceTimestamp: now, Status: record.StatusActive, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, a.Close(context.Background()))

	b, err := Open(Options{Base: base})
	require.NoError(t, err)
	defer b.Close(context.Background())
	got, err := b.Tiers["working"].Get("jsonl:w2")
	require.NoError(t, err)
	assert.Equal(t, "remember this", got.Content)
}

func TestBootstrapLayoutPaths(t *testing.T) {
	base := t.TempDir()
	l := Layout{Base: base}
	require.NoError(t, l.Bootstrap(false))

	for _, p := range []string{
		l.WorkingPath(), l.ShortTermPath(), l.LongTermPath(), l.GlobalPath(),
		l.SkillsPath(), l.DecisionsPath(), l.OutcomesPath(), l.AnnotationsPath(),
	} {
		assert.FileExists(t, p)
	}
	assert.DirExists(t, l.LocksDir())
	assert.DirExists(t, l.ConfigHistoryDir())
	assert.Equal(t, filepath.Join(base, "data", "memories", "projects", "abc.jsonl"), l.ProjectPath("abc"))
}
