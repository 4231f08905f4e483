package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps fixed strings to hand-picked vectors so tests are
// deterministic without a real model.
type fakeEmbedder struct {
	vectors map[string][]float32
	dims    int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, f.dims), nil
}

func (f *fakeEmbedder) Dims() int { return f.dims }

func TestCachedEmbedderCachesAndEvicts(t *testing.T) {
	calls := 0
	inner := &countingEmbedder{dims: 2, calls: &calls}
	c := NewCachedEmbedder(inner, 2)

	_, err := c.Embed(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call for the same text must hit the cache")

	_, _ = c.Embed(context.Background(), "b")
	_, _ = c.Embed(context.Background(), "c") // evicts "a" (LRU, capacity 2)
	_, _ = c.Embed(context.Background(), "a")
	assert.Equal(t, 4, calls, "evicted key must recompute")
}

type countingEmbedder struct {
	dims  int
	calls *int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	*c.calls++
	return make([]float32, c.dims), nil
}
func (c *countingEmbedder) Dims() int { return c.dims }

func TestVectorIndexSearchOrdersByDistance(t *testing.T) {
	idx := NewVectorIndex(2, 8)
	require.NoError(t, idx.Add("a", []float32{1, 0}))
	require.NoError(t, idx.Add("b", []float32{0, 1}))
	require.NoError(t, idx.Add("c", []float32{0.9, 0.1}))

	hits, err := idx.Search([]float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)
	assert.Equal(t, "b", hits[2].ID)
}

func TestVectorIndexRemoveIsDeletionAware(t *testing.T) {
	idx := NewVectorIndex(2, 8)
	require.NoError(t, idx.Add("a", []float32{1, 0}))
	require.NoError(t, idx.Add("b", []float32{0, 1}))
	idx.Remove("a")

	assert.Equal(t, 1, idx.Len())
	hits, err := idx.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestVectorIndexSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx := NewVectorIndex(3, 8)
	require.NoError(t, idx.Add("x", []float32{1, 2, 3}))
	require.NoError(t, idx.Add("y", []float32{4, 5, 6}))
	idx.Remove("y")

	blob := filepath.Join(dir, "index.bin")
	mapping := filepath.Join(dir, "mapping.json")
	require.NoError(t, idx.Save(blob, mapping))

	loaded, err := LoadVectorIndex(blob, mapping, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	hits, err := loaded.Search([]float32{1, 2, 3}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "x", hits[0].ID)
}

func TestVectorIndexLoadMissingFilesYieldsEmpty(t *testing.T) {
	dir := t.TempDir()
	idx, err := LoadVectorIndex(filepath.Join(dir, "nope.bin"), filepath.Join(dir, "nope.json"), 4)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestBM25RanksExactMatchHigher(t *testing.T) {
	idx := NewBM25Index()
	idx.Index("1", "use git pull rebase to avoid merge commits")
	idx.Index("2", "configure the docker compose file for local dev")
	idx.Index("3", "git rebase git rebase git rebase workflow notes")

	hits := idx.Search("git rebase", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, "3", hits[0].ID)
}

func TestBM25RemoveDropsFromResults(t *testing.T) {
	idx := NewBM25Index()
	idx.Index("1", "kubernetes deployment rollout")
	idx.Remove("1")
	hits := idx.Search("kubernetes", 10)
	assert.Empty(t, hits)
}

func TestHybridSearchNoDuplicatesAndDescending(t *testing.T) {
	vec := NewVectorIndex(2, 8)
	require.NoError(t, vec.Add("both", []float32{1, 0}))
	require.NoError(t, vec.Add("vec-only", []float32{0.9, 0.1}))

	lex := NewBM25Index()
	lex.Index("both", "use git pull rebase")
	lex.Index("lex-only", "use git pull rebase workflow")

	embedder := NewCachedEmbedder(&fakeEmbedder{dims: 2, vectors: map[string][]float32{
		"git rebase": {1, 0},
	}}, 8)

	h := NewHybrid(vec, lex, embedder)
	hits := h.Search(context.Background(), "git rebase", DefaultHybridOptions())

	seen := make(map[string]bool)
	for i, hit := range hits {
		assert.False(t, seen[hit.ID], "duplicate id in fused results: %s", hit.ID)
		seen[hit.ID] = true
		if i > 0 {
			assert.LessOrEqual(t, hits[i].Score, hits[i-1].Score)
		}
	}
	require.Contains(t, seen, "both")
	// "both" is matched by both BM25 and vector search, so it must rank
	// strictly above a hit matched by only one of the two searches.
	var bothScore, singleScore float64
	for _, hit := range hits {
		if hit.ID == "both" {
			bothScore = hit.Score
		}
		if hit.ID == "vec-only" || hit.ID == "lex-only" {
			if hit.Score > singleScore {
				singleScore = hit.Score
			}
		}
	}
	assert.Greater(t, bothScore, singleScore)
}

func TestHybridDegradesToBM25WithoutEmbedder(t *testing.T) {
	lex := NewBM25Index()
	lex.Index("1", "terraform apply plan")
	embedder := NewCachedEmbedder(nil, 8)

	h := NewHybrid(nil, lex, embedder)
	hits := h.Search(context.Background(), "terraform", DefaultHybridOptions())
	require.Len(t, hits, 1)
	assert.Equal(t, "1", hits[0].ID)
	assert.Nil(t, hits[0].Vector)
}
