package knowledgegraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortex-memory/cortex/internal/adapters"
	"github.com/cortex-memory/cortex/internal/mcpcaller"
	"github.com/cortex-memory/cortex/internal/record"
)

func TestMapEntityTypeFixedTable(t *testing.T) {
	assert.Equal(t, record.TypePattern, mapEntityType("pattern"))
	assert.Equal(t, record.TypeLearning, mapEntityType("bug"))
	assert.Equal(t, record.TypePreference, mapEntityType("setting"))
	assert.Equal(t, record.TypeSkill, mapEntityType("technique"))
	assert.Equal(t, record.TypeCorrection, mapEntityType("warning"))
	assert.Equal(t, record.TypePattern, mapEntityType("workflow"))
	assert.Equal(t, record.TypeLearning, mapEntityType("something-unknown"))
}

func TestQueryJoinsObservations(t *testing.T) {
	caller := mcpcaller.CallerFunc(func(ctx context.Context, tool string, params map[string]any) (map[string]any, error) {
		return map[string]any{
			"entities": []any{
				map[string]any{
					"name": "retry-budget", "entityType": "pattern",
					"observations": []any{"cap retries at 3", "always use jittered backoff"},
				},
			},
		}, nil
	})
	a := New(caller)
	recs, stats := a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	require.Len(t, recs, 1)
	assert.True(t, stats.Available)
	assert.Contains(t, recs[0].Content, "jittered backoff")
	assert.Equal(t, record.TypePattern, recs[0].Type)
}

func TestWriteInvalidatesCache(t *testing.T) {
	queries := 0
	caller := mcpcaller.CallerFunc(func(ctx context.Context, tool string, params map[string]any) (map[string]any, error) {
		if tool == "knowledge_graph.search_nodes" {
			queries++
		}
		return map[string]any{"entities": []any{}}, nil
	})
	a := New(caller)

	_, _ = a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	_, _ = a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	assert.Equal(t, 1, queries, "second query should be served from cache")

	require.NoError(t, a.Write(context.Background(), adapters.WriteOp{Kind: "create_entity", Data: map[string]any{}}))

	_, _ = a.Query(context.Background(), adapters.QueryContext{}, adapters.QueryOptions{})
	assert.Equal(t, 2, queries, "query after write should bypass the invalidated cache")
}

func TestWriteUnknownKindFails(t *testing.T) {
	a := New(mcpcaller.Unavailable)
	err := a.Write(context.Background(), adapters.WriteOp{Kind: "bogus"})
	assert.Error(t, err)
}
