package convarchive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/mcpcaller"
	"github.com/cortex-memory/cortex/internal/record"
)

func TestBuildQueryFallsBackToRecent(t *testing.T) {
	q := buildQuery(adapters.QueryContext{})
	assert.Equal(t, "recent", q)
}

func TestBuildQueryConcatenatesSignals(t *testing.T) {
	q := buildQuery(adapters.QueryContext{
		Intent: record.IntentDebugging, IntentConfidence: 0.8,
		Tags: []string{"go", "docker"}, ProjectName: "cortex", Domains: []string{"backend"},
	})
	assert.Contains(t, q, "debugging")
	assert.Contains(t, q, "go")
	assert.Contains(t, q, "cortex")
	assert.Contains(t, q, "backend")
}

func TestQueryMapsHitsAndCaches(t *testing.T) {
	calls := 0
	caller := mcpcaller.CallerFunc(func(ctx context.Context, tool string, params map[string]any) (map[string]any, error) {
		calls++
		return map[string]any{
			"hits": []any{
				map[string]any{"path": "/sessions/projects/abc123def456/1.md", "content": "fixed the race condition in the queue", "timestamp": "2026-01-01T00:00:00Z"},
			},
		}, nil
	})
	a := New(caller)

	recs, stats := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	require.Len(t, recs, 1)
	assert.True(t, stats.Available)
	assert.Equal(t, record.TypeCorrection, recs[0].Type)
	require.NotNil(t, recs[0].ProjectHash)
	assert.Equal(t, "abc123def456", *recs[0].ProjectHash)

	_, stats2 := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	assert.Equal(t, 1, calls, "second query should hit cache, not call again")
	assert.Equal(t, 1.0, stats2.CacheHitRate)
}

func TestQueryIsolatesCallerError(t *testing.T) {
	caller := mcpcaller.CallerFunc(func(ctx context.Context, tool string, params map[string]any) (map[string]any, error) {
		return nil, assert.AnError
	})
	a := New(caller)
	recs, stats := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	assert.Empty(t, recs)
	assert.False(t, stats.Available)
	assert.NotEmpty(t, stats.Error)
}
